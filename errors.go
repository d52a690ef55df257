package servicenow

import "github.com/anguspalmer/servicenow/internal/apperr"

// Error is the single error type returned across the whole module, modeled
// on the teacher's model.ErrorResponse/ErrorDetail envelope: a closed Kind,
// a short human message, and optional structured Context (table, column,
// value, status code).
type Error = apperr.Error

// Kind classifies the failure modes the client can surface.
type Kind = apperr.Kind

// Error kinds, see spec §7.
const (
	KindConfiguration     = apperr.Configuration
	KindRequestValidation = apperr.RequestValidation
	KindTransport         = apperr.Transport
	KindProtocol          = apperr.Protocol
	KindSchema            = apperr.Schema
	KindCoercion          = apperr.Coercion
	KindPlan              = apperr.Plan
	KindQuota             = apperr.Quota
	KindOperational       = apperr.Operational
)
