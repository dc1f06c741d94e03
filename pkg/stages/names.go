// Package stages defines the closed alphabet of pipeline stages and the
// typed RPC contracts the core relies on. Stage internals (prompts, SQL
// dialect, formatting templates) are external; only these request/response
// shapes are part of the core's contract.
package stages

// Name identifies one pipeline stage.
type Name string

const (
	Rewrite Name = "rewrite"
	Intent  Name = "intent"
	SQLGen  Name = "sqlgen"
	Rank    Name = "rank"
	Eval    Name = "evaluate"
	Clarify Name = "clarify"
	Format  Name = "format"

	// SQLExec is the corpus database execution step. It is not an RPC
	// stage (no endpoint, no retries through the dispatcher) but it still
	// appears in the ledger and in progress events.
	SQLExec Name = "sql_exec"
)

// RPCStages lists every stage reached through the dispatcher, i.e. every
// stage a deployment must configure an endpoint for. Order is the canonical
// pipeline order.
func RPCStages() []Name {
	return []Name{Rewrite, Intent, SQLGen, Rank, Eval, Clarify, Format}
}

// KnownRPCStage reports whether s names a dispatchable stage. Unknown
// stage ids in configuration are a startup error.
func KnownRPCStage(s Name) bool {
	for _, n := range RPCStages() {
		if n == s {
			return true
		}
	}
	return false
}
