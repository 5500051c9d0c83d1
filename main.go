package main

import (
	"context"
	"lifelog/app/access/bot"
	"lifelog/app/access/cli"
	"lifelog/app/access/mcpserver"
	"lifelog/app/client/ai"
	"lifelog/app/extensions/finance"
	"lifelog/app/extensions/work"
	"lifelog/app/service/dedup"
	"lifelog/app/service/extension"
	"lifelog/app/service/router"
	"lifelog/app/storage"
	"lifelog/app/util/mylog"
	"os"
	"os/signal"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	do.Provide(di, ai.NewClient)
	do.Provide(di, storage.New)
	do.Provide(di, dedup.New)
	do.Provide(di, router.New)
	do.Provide(di, bot.New)
	do.Provide(di, mcpserver.New)

	// Builtins are registered here so the whole extension set is owned
	// by the composition root.
	do.Provide(di, func(i *do.Injector) (*extension.Manager, error) {
		manager, err := extension.New(i)
		if err != nil {
			return nil, err
		}

		manager.RegisterBuiltin("finance", finance.New)
		manager.RegisterBuiltin("work", work.New)

		return manager, nil
	})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	if err := cli.ExecuteContext(appCtx, di); err != nil {
		log.Fatalf("command failed: %v", err)
	}
}
