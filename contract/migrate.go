package contract

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// nonCacheableDefaults lists the UnifiedRequest fields that never
// participate in cache-key derivation. Defined here (rather than in the
// cache package) because it is part of the wire contract between schema
// versions: callers regenerating request_id/created_at/metadata across
// retries must still observe cache hits.
var nonCacheableDefaults = []string{"metadata", "callback_url", "request_id", "created_at"}

// NonCacheableParams returns the default set of non-cacheable parameter
// keys. Callers may extend this via RouterConfig.
func NonCacheableParams() []string {
	out := make([]string, len(nonCacheableDefaults))
	copy(out, nonCacheableDefaults)
	return out
}

// rawEnvelope is the loosely-typed wire shape used to detect and migrate
// older schema versions before decoding into UnifiedRequest.
type rawEnvelope map[string]json.RawMessage

// Parse validates and migrates a raw request envelope (as submitted by a
// caller on schema version declaredVersion) up to the current in-memory
// v2.0 shape. Required-field validation failures are returned as
// *ErrorDetails with code invalid_request and details.field set to the
// offending field name.
func Parse(raw []byte, declaredVersion SchemaVersion) (UnifiedRequest, error) {
	if !declaredVersion.Valid() {
		return UnifiedRequest{}, &ErrorDetails{
			Code:    ErrInvalidRequest,
			Message: fmt.Sprintf("unsupported schema_version %q", declaredVersion),
			Details: map[string]any{"field": "schema_version"},
		}
	}

	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return UnifiedRequest{}, &ErrorDetails{
			Code:    ErrInvalidRequest,
			Message: fmt.Sprintf("malformed request body: %v", err),
		}
	}

	switch declaredVersion {
	case V1_0:
		migrateRequest1_0To1_1(env)
		fallthrough
	case V1_1:
		migrateRequest1_1To2_0(env)
	case V2_0:
		// already current
	}

	migrated, err := json.Marshal(env)
	if err != nil {
		return UnifiedRequest{}, fmt.Errorf("re-marshalling migrated request: %w", err)
	}

	var req UnifiedRequest
	if err := json.Unmarshal(migrated, &req); err != nil {
		return UnifiedRequest{}, &ErrorDetails{
			Code:    ErrInvalidRequest,
			Message: fmt.Sprintf("decoding migrated request: %v", err),
		}
	}
	req.SchemaVersion = V2_0

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Provider == "" {
		req.Provider = AutoProvider
	}
	if req.RetryConfig == (RetryConfig{}) {
		req.RetryConfig = DefaultRetryConfig()
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}

	if err := req.Validate(); err != nil {
		return UnifiedRequest{}, err
	}
	return req, nil
}

// migrateRequest1_0To1_1 applies the 1.0→1.1 request-side migration rule:
// inject empty metadata and default retry_config if missing.
func migrateRequest1_0To1_1(env rawEnvelope) {
	if _, ok := env["metadata"]; !ok {
		env["metadata"] = json.RawMessage(`{}`)
	}
	if _, ok := env["retry_config"]; !ok {
		env["retry_config"] = json.RawMessage(`{"max_retries":3,"base_delay_ms":1000}`)
	}
}

// migrateRequest1_1To2_0 is the 1.1→2.0 request-side migration step and
// makes no change; the lift of quality/safety/advanced keys into
// generation_config happens on the response side, in liftAdvancedParams.
// The request-side contract has no generation_config field of its own (it
// is a response-side concept); on the request path this step is a no-op
// placeholder kept for symmetry with the response-side migration and
// documented here so the two functions stay easy to compare.
func migrateRequest1_1To2_0(_ rawEnvelope) {
	// no request-side change at 1.1→2.0
}

// advancedParamKeys are lifted from parameters into generation_config when
// migrating a response from 1.1 to 2.0.
var advancedParamKeys = map[string]bool{
	"quality":         true,
	"safety":          true,
	"guidance_scale":  true,
	"motion_strength": true,
}

// Serialize migrates a v2.0 UnifiedResponse down to targetVersion's wire
// shape and marshals it to JSON. request_id is always preserved.
func Serialize(resp UnifiedResponse, targetVersion SchemaVersion) ([]byte, error) {
	if !targetVersion.Valid() {
		return nil, fmt.Errorf("unsupported schema_version %q", targetVersion)
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshalling response: %w", err)
	}
	var env rawEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("re-decoding response for migration: %w", err)
	}
	env["schema_version"] = mustMarshal(targetVersion)
	ensureCorrelationID(env)

	switch targetVersion {
	case V1_0:
		migrateResponse1_1To1_0(env)
	case V1_1:
		// provider stays a plain string below v2.0; nothing to collapse.
	case V2_0:
		migrateResponse1_1To2_0(env)
		liftAdvancedParams(env)
	}

	return json.Marshal(env)
}

// ensureCorrelationID mints a correlation_id for error.correlation_id if the
// response carries an error with none set.
func ensureCorrelationID(env rawEnvelope) {
	errRaw, ok := env["error"]
	if !ok || string(errRaw) == "null" {
		return
	}
	var errObj map[string]json.RawMessage
	if err := json.Unmarshal(errRaw, &errObj); err != nil {
		return
	}
	cid, ok := errObj["correlation_id"]
	if ok && string(cid) != `""` && string(cid) != "null" {
		return
	}
	errObj["correlation_id"] = mustMarshal(uuid.NewString())
	b, err := json.Marshal(errObj)
	if err != nil {
		return
	}
	env["error"] = b
}

// migrateResponse1_1To2_0 expands the plain provider string into a
// provider_info object for wire-format 2.0 callers. Internal processing
// keeps UnifiedResponse.Provider as a plain string throughout; this
// expansion only happens at the outermost serialization boundary.
func migrateResponse1_1To2_0(env rawEnvelope) {
	providerRaw, ok := env["provider"]
	if !ok {
		return
	}
	var name string
	if err := json.Unmarshal(providerRaw, &name); err != nil {
		return
	}
	env["provider_info"] = mustMarshal(map[string]string{
		"name":    name,
		"version": "unknown",
		"region":  "unknown",
	})
}

// liftAdvancedParams moves quality/safety/advanced keys out of
// result.parameters into a sibling result.generation_config object, the
// 1.1→2.0 response-side counterpart of the key lift. A response with no
// result.parameters, or none of the advanced keys, is left untouched.
func liftAdvancedParams(env rawEnvelope) {
	resultRaw, ok := env["result"]
	if !ok {
		return
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(resultRaw, &result); err != nil {
		return
	}
	paramsRaw, ok := result["parameters"]
	if !ok {
		return
	}
	var params map[string]json.RawMessage
	if err := json.Unmarshal(paramsRaw, &params); err != nil {
		return
	}

	lifted := make(map[string]json.RawMessage)
	for k := range advancedParamKeys {
		if v, ok := params[k]; ok {
			lifted[k] = v
			delete(params, k)
		}
	}
	if len(lifted) == 0 {
		return
	}

	paramsB, err := json.Marshal(params)
	if err != nil {
		return
	}
	result["parameters"] = paramsB
	result["generation_config"] = mustMarshal(lifted)

	resultB, err := json.Marshal(result)
	if err != nil {
		return
	}
	env["result"] = resultB
}

// migrateResponse1_1To1_0 reverses the 1.0→1.1 response migration: if
// result.urls is a single-element array, collapse it back to
// result.output_url as a scalar string (the form a 1.0 caller expects).
func migrateResponse1_1To1_0(env rawEnvelope) {
	resultRaw, ok := env["result"]
	if !ok {
		return
	}
	var result map[string]json.RawMessage
	if err := json.Unmarshal(resultRaw, &result); err != nil {
		return
	}
	urlsRaw, ok := result["urls"]
	if !ok {
		return
	}
	var urls []string
	if err := json.Unmarshal(urlsRaw, &urls); err != nil || len(urls) != 1 {
		return
	}
	delete(result, "urls")
	result["output_url"] = mustMarshal(urls[0])
	b, err := json.Marshal(result)
	if err != nil {
		return
	}
	env["result"] = b
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// v is always a concrete, marshalable type constructed in this
		// file (strings, SchemaVersion); a marshal failure here indicates
		// a programming error, not bad caller input.
		panic(fmt.Sprintf("contract: marshalling internal value: %v", err))
	}
	return b
}
