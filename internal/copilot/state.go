// Package copilot tracks per-conversation suggestion requests.
//
// Each conversation has its own state. A request carries a generation
// number; a result lands only if its generation is still current, so a
// late answer never overwrites a newer request or a cleared panel.
package copilot

import (
	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

// Placeholder is the answer shown when a request fails.
const Placeholder = "Não foi possível gerar uma sugestão agora. Tente novamente."

// Begin records a new request.
func Begin(query string, kind store.QueryKind, gen uint64) store.CopilotState {
	return store.CopilotState{
		Status: store.CopilotLoading,
		Query:  query,
		Kind:   kind,
		Gen:    gen,
	}
}

// Resolve stores a result if gen is still the state's generation.
func Resolve(st store.CopilotState, gen uint64, result *store.Suggestion) (store.CopilotState, bool) {
	if st.Gen != gen || st.Status != store.CopilotLoading {
		return st, false
	}
	st.Status = store.CopilotReady
	st.Result = result
	return st, true
}

// Fail records an error and the placeholder suggestion if gen is current.
func Fail(st store.CopilotState, gen uint64) (store.CopilotState, bool) {
	if st.Gen != gen || st.Status != store.CopilotLoading {
		return st, false
	}
	st.Status = store.CopilotError
	st.Result = &store.Suggestion{Answer: Placeholder}
	return st, true
}

// Clear returns an idle state under a new generation, invalidating any
// request in flight.
func Clear(gen uint64) store.CopilotState {
	return store.CopilotState{Status: store.CopilotIdle, Gen: gen}
}
