// Command reference is an example out-of-process plugin. It answers
// quick-info with the word under the cursor and goto-definition with the
// first "func <word>" declaration in the current buffer.
//
// Build it next to its manifest:
//
//	go build -o plugins/reference/reference ./plugins/reference
package main

import (
	"github.com/dshills/exthost/internal/exthost/capability"
	"github.com/dshills/exthost/internal/exthost/channel/grpcplugin"
)

func main() {
	h := newHandler()
	grpcplugin.Serve(&grpcplugin.Plugin{
		Meta: grpcplugin.Metadata{
			Name:    "reference",
			Version: "0.1.0",
			Capabilities: capability.Set{
				Subscriptions:    []string{capability.SubscriptionBufferUpdate},
				LanguageServices: []string{capability.QuickInfo, capability.GotoDefinition},
				Filetypes:        []string{"go"},
			},
		},
		Handler: h.handle,
	})
}
