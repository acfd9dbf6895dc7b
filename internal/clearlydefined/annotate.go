package clearlydefined

import (
	"encoding/json"
	"log/slog"
)

// propertyName is the component property that carries the declared license.
const propertyName = "clearly-defined"

// definitionPayload is the slice of a ClearlyDefined definition we read.
type definitionPayload struct {
	Licensed struct {
		Declared any `json:"declared"`
	} `json:"licensed"`
}

// annotate adds the declared license from a definition payload to the
// component. Parse failures and schema mismatches are logged and swallowed;
// the caller still treats the request as successful.
func annotate(logger *slog.Logger, component Component, body string) {
	var payload definitionPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		logger.Error("bad ClearlyDefined content", "error", err)
		return
	}

	declared, ok := payload.Licensed.Declared.(string)
	if !ok {
		reason := "declared license is not a string"
		if payload.Licensed.Declared == nil {
			reason = "no declared license"
		}
		logger.Error("bad ClearlyDefined content", "reason", reason)
		return
	}

	component.AddProperty(propertyName, declared)
}
