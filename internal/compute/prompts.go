package compute

import (
	"encoding/json"
	"fmt"
	"strings"

	"aidesk/internal/erp"
	"aidesk/internal/protocol"
)

// maxContextChars keeps packed context small enough for CPU-hosted models.
const maxContextChars = 1800

const recommendSystem = `You are an operations analyst for an automotive parts business.
Use ONLY the records between CONTEXT_START and CONTEXT_END. When a detail is missing write "NOT_ENOUGH_CONTEXT" in that field.
Never invent suppliers, products, quantities, prices or dates.

Rules:
- Stock alerts: any inventory row with stockLevel <= reorderLevel needs a reorder up to ceil(1.5 * reorderLevel).
- Supplier choice: prefer providerProducts rows with isPreferred == 1, otherwise the highest rating, ties broken by lowest avgDeliveryDays.
- Risks: volatile monthly quantities, provider rating below 3, or avgDeliveryDays above 10.
- List the record ids you relied on as evidence.

Output ONLY this JSON:
{
  "title": "string",
  "summary": "string",
  "stockAlerts": [{"productName": "string", "currentLevel": 0, "reorderLevel": 0, "recommendedOrderQty": 0,
                   "suggestedProvider": {"providerId": "string", "providerName": "string", "reason": "string"}}],
  "costOpportunities": [{"title": "string", "impact": "string", "actions": ["string"]}],
  "risks": [{"title": "string", "severity": "low|medium|high", "detail": "string"}]
}`

const recommendChartSystem = `You are an inventory and merchandising analyst.
From the CONTEXT produce one JSON object with:
- "title": a short report title
- "summary": one or two short paragraphs
- "recommendations": 3 to 5 one-line actions for the next season
- "chart": {"type": "bar" or "line", "labels": [strings], "values": [numbers matching labels]}
Do not invent data. If no numbers are available keep the chart with empty arrays.
Reply with the JSON object only, no commentary.`

const summarizeSystem = `You write a short executive summary of an automotive manufacturing project.
Use ONLY the records between CONTEXT_START and CONTEXT_END and write "NOT_AVAILABLE" for anything missing.

Output ONLY this JSON:
{
  "title": "string",
  "summary": "string",
  "topProductsByRevenue": [{"productName": "string", "totalRevenue": 0}],
  "inventoryStatus": [{"productName": "string", "stockLevel": 0, "reorderLevel": 0, "status": "ok|watch|reorder"}],
  "preferredSuppliers": [{"productName": "string", "providerName": "string"}]
}
Inventory status is "reorder" when stockLevel <= reorderLevel, "watch" when stockLevel <= 1.25 * reorderLevel, otherwise "ok".`

const extractSystem = `You normalize project records into clean entities for a data warehouse.
Use ONLY the records between CONTEXT_START and CONTEXT_END and never fabricate values.

Output ONLY this JSON:
{
  "title": "string",
  "summary": "string",
  "products": [{"productName": "string"}],
  "providers": [{"providerId": "string", "name": "string", "country": "string", "rating": 0, "avgDeliveryDays": 0}],
  "inventory": [{"inventoryId": "string", "productName": "string", "stockLevel": 0, "reorderLevel": 0}]
}`

const chatSystem = `You are a business assistant restricted to the organization's ERP records.
- Answer only questions about inventory, suppliers, orders, sales, fulfillment, costs or risks.
- If the question is out of scope reply with exactly: "` + protocol.RejectionSentence + `"
- Never invent data. When the records are insufficient say "NOT_ENOUGH_CONTEXT".
Output ONLY this JSON:
{"answer": "string", "used": {"products": ["string"], "providers": ["string"]}}`

func systemPrompt(mode protocol.Mode) (string, error) {
	switch mode {
	case protocol.ModeRecommend:
		return recommendSystem, nil
	case protocol.ModeRecommendWithChart:
		return recommendChartSystem, nil
	case protocol.ModeSummarize:
		return summarizeSystem, nil
	case protocol.ModeExtract:
		return extractSystem, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", mode)
	}
}

func packPrompt(system string, input any, task string) (string, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode prompt context: %w", err)
	}
	ctx := string(data)
	if len(ctx) > maxContextChars {
		ctx = ctx[:maxContextChars] + "...TRUNCATED..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SYSTEM INSTRUCTIONS:\n%s\n\n", system)
	fmt.Fprintf(&b, "CONTEXT_START\n%s\nCONTEXT_END\n\n", ctx)
	fmt.Fprintf(&b, "TASK: %s\n\n", task)
	b.WriteString("REPLY STRICTLY IN VALID JSON ONLY.\n")
	b.WriteString("Do not include comments, explanations, or extra text outside the JSON object.\n")
	return b.String(), nil
}

// thinProject trims a project context to what the mode needs.
func thinProject(mode protocol.Mode, pc *erp.ProjectContext) any {
	trimmed := *pc
	trimmed.SalesMonthly = head(pc.SalesMonthly, 6)
	if mode != protocol.ModeSummarize {
		return &trimmed
	}
	return struct {
		Header           erp.Header            `json:"header"`
		ProviderProducts []erp.ProviderProduct `json:"providerProducts"`
		Inventory        []erp.InventoryItem   `json:"inventory"`
		SalesMonthly     []erp.MonthlySales    `json:"salesMonthly"`
	}{
		Header:           pc.Header,
		ProviderProducts: head(pc.ProviderProducts, 5),
		Inventory:        head(pc.Inventory, 5),
		SalesMonthly:     trimmed.SalesMonthly,
	}
}

func chatPrompt(pc *erp.ProjectContext, question string) (string, error) {
	sections := []struct {
		name string
		data any
	}{
		{"SALES_HISTORY", head(pc.SalesMonthly, 12)},
		{"INVENTORY", pc.Inventory},
		{"PROVIDERS", pc.Providers},
		{"PROVIDER_PRODUCTS", pc.ProviderProducts},
	}

	var b strings.Builder
	b.WriteString("SYSTEM INSTRUCTIONS:\n")
	b.WriteString(chatSystem)
	for _, section := range sections {
		data, err := json.Marshal(section.data)
		if err != nil {
			return "", fmt.Errorf("encode %s section: %w", section.name, err)
		}
		fmt.Fprintf(&b, "\nSECTION: %s\n%s", section.name, data)
	}
	fmt.Fprintf(&b, "\n\nTASK: %s\n\n", question)
	b.WriteString("Respond ONLY as a single valid JSON object with keys 'answer', 'used', and optional 'stockAlerts'.")
	return b.String(), nil
}

func head[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
