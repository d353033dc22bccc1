package compute

import (
	"context"
	"fmt"

	"aidesk/internal/erp"
)

// notEnoughContext is the answer used when the model produced nothing usable.
const notEnoughContext = "NOT_ENOUGH_CONTEXT"

// Used lists the records a chat answer relied on.
type Used struct {
	Products           []string `json:"products"`
	Providers          []string `json:"providers"`
	InventoryIDs       []string `json:"inventoryIds"`
	ProviderProductIDs []string `json:"providerProductIds"`
	SaleIDs            []string `json:"saleIds"`
}

// ChatAnswer is the normalized reply to a chat question.
type ChatAnswer struct {
	Answer      string           `json:"answer"`
	Used        Used             `json:"used"`
	StockAlerts []map[string]any `json:"stockAlerts,omitempty"`
}

// Chat answers question grounded on the project context.
func (r *Runner) Chat(ctx context.Context, pc *erp.ProjectContext, question string) (*ChatAnswer, error) {
	if pc == nil {
		return nil, fmt.Errorf("chat requires a project context")
	}
	prompt, err := chatPrompt(pc, question)
	if err != nil {
		return nil, err
	}
	obj, err := r.completeJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return normalizeChat(obj), nil
}

func normalizeChat(obj map[string]any) *ChatAnswer {
	answer := stringField(obj, "answer")
	if answer == "" {
		// some models put the text under a different key
		for _, key := range []string{"summary", "report", "content"} {
			if answer = stringField(obj, key); answer != "" {
				break
			}
		}
	}
	if answer == "" {
		answer = notEnoughContext
	}

	out := &ChatAnswer{Answer: answer, StockAlerts: objectList(obj["stockAlerts"])}
	used, _ := obj["used"].(map[string]any)
	out.Used = Used{
		Products:           nonNil(stringList(used["products"])),
		Providers:          nonNil(stringList(used["providers"])),
		InventoryIDs:       nonNil(stringList(used["inventoryIds"])),
		ProviderProductIDs: nonNil(stringList(used["providerProductIds"])),
		SaleIDs:            nonNil(stringList(used["saleIds"])),
	}
	if len(out.StockAlerts) == 0 {
		out.StockAlerts = nil
	}
	return out
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
