// Command ruleengine is a runnable example: it loads a small DSL program,
// wires an in-memory graph, and drives the engine against one change event
// — the S1 scenario from the engine's test suite (a supplier status change
// cascading to its open purchase orders).
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rulegraph/actions"
	"rulegraph/ast"
	"rulegraph/events"
	"rulegraph/graphdb/memory"
	"rulegraph/query"
	"rulegraph/rules"
)

const ruleDSL = `
RULE SupplierBlocksOpenOrders PRIORITY 100 {
    ON UPDATE(Supplier.status)
    FOR (s:Supplier WHERE s.status IN ["Expired", "Blacklisted", "Suspended"]) {
        FOR (po:PurchaseOrder WHERE EXISTS(po -[orderedFrom]-> s) AND po.status == "Open") {
            SET po.status = "RiskLocked";
        }
    }
}
`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	store := memory.NewStore()
	store.CreateNode("BP_10001", "Supplier", map[string]any{"status": "Active"})
	store.CreateNode("PO_001", "PurchaseOrder", map[string]any{"status": "Open"})
	store.CreateEdge("PO_001", "BP_10001", "orderedFrom")

	// A second order placed against the same supplier, with no external id of
	// its own yet — the store mints one.
	poID := store.CreateEntity("PurchaseOrder", map[string]any{"status": "Open"})
	store.CreateEdge(poID, "BP_10001", "orderedFrom")

	ruleRegistry := rules.NewRegistry()
	if err := ruleRegistry.LoadFromText(ruleDSL); err != nil {
		log.Fatal().Err(err).Msg("loading rule DSL")
	}

	actionRegistry := actions.NewRegistry()
	translator := query.NewTranslator()
	executor := actions.NewExecutor(actionRegistry, store, translator)

	engine := rules.NewEngine(ruleRegistry, executor, store, translator)

	emitter := events.NewEmitter()
	emitter.Subscribe(engine)

	ctx := context.Background()
	emitter.Emit(ctx, ast.ChangeEvent{
		EntityType: "Supplier",
		EntityID:   "BP_10001",
		Property:   "status",
		OldValue:   "Active",
		NewValue:   "Suspended",
	})

	po, _ := store.Node("PO_001")
	log.Info().Interface("PO_001", po).Msg("final purchase order state")

	po2, _ := store.Node(poID)
	log.Info().Str("id", poID).Interface("order", po2).Msg("dynamically created order final state")
}
