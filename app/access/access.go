// Package access defines the channel-independent request and response
// shapes exchanged between channel adapters, the router and extensions.
package access

import "fmt"

const (
	ChannelCLI = "cli"
	ChannelBot = "bot"
	ChannelMCP = "mcp"
)

// MetaMarkdown carries a markdown payload for channels capable of rich rendering.
const MetaMarkdown = "markdown"

type Request struct {
	UserID   string
	Text     string
	Channel  string
	Context  map[string]any
	Metadata map[string]any
}

type Response struct {
	Success  bool
	Message  string
	Data     map[string]any
	Error    string
	Metadata map[string]any
}

func Errorf(format string, args ...any) Response {
	return Response{
		Success:  false,
		Error:    fmt.Sprintf(format, args...),
		Metadata: map[string]any{},
	}
}
