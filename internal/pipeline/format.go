package pipeline

import (
	"fmt"
	"html"
	"strings"

	"github.com/alexey-kott/youdo-watcher/internal/model"
	"github.com/alexey-kott/youdo-watcher/internal/notify"
)

// notSpecified substitutes for an absent budget or description.
const notSpecified = "not specified"

// blockSeparator joins item blocks inside one batched message.
const blockSeparator = "\n\n"

// BuildMessage renders one task as a Telegram HTML message block.
func BuildMessage(task model.Task) string {
	budget := strings.TrimSpace(task.PriceAmount)
	if budget == "" {
		budget = notSpecified
	}
	description := strings.TrimSpace(task.Description)
	if description == "" {
		description = notSpecified
	}

	return fmt.Sprintf("<b>%s</b>\nBudget: %s\n%s\n%s",
		html.EscapeString(task.Name),
		html.EscapeString(budget),
		html.EscapeString(description),
		task.Link(),
	)
}

// SplitBatch packs item blocks into messages no longer than the sink's
// transport ceiling, splitting only on item boundaries. A single block that
// alone exceeds the ceiling is truncated with an ellipsis — the one case
// where the boundary rule cannot hold.
func SplitBatch(blocks []string) []string {
	var messages []string
	var current strings.Builder

	for _, block := range blocks {
		if len(block) > notify.MaxMessageLen {
			block = block[:notify.MaxMessageLen-len("…")] + "…"
		}

		if current.Len() == 0 {
			current.WriteString(block)
			continue
		}

		if current.Len()+len(blockSeparator)+len(block) > notify.MaxMessageLen {
			messages = append(messages, current.String())
			current.Reset()
			current.WriteString(block)
			continue
		}

		current.WriteString(blockSeparator)
		current.WriteString(block)
	}

	if current.Len() > 0 {
		messages = append(messages, current.String())
	}

	return messages
}
