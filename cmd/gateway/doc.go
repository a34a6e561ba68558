// Command gateway is the agentflow-gateway entrypoint. It loads
// configuration, opens the catalogue's database (and optional Redis
// cache), wires the adapter pool and router into a single llm.Gateway,
// and serves /healthz and /metrics on one HTTP port until a shutdown
// signal arrives.
//
// It intentionally does not expose the OpenAI-compatible chat endpoint
// itself, admin CRUD, or authentication middleware — those are out of
// scope for this binary. Callers embed llm.Gateway directly, or front it
// with their own transport.
package main
