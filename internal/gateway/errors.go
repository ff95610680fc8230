package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/graphmcp/internal/embedding"
	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/metrics"
	"github.com/HendryAvila/graphmcp/internal/policy"
)

// --- Kind enum ---

// Kind classifies a refused or failed operation.
type Kind string

const (
	KindPolicyDenied        Kind = "PolicyDenied"
	KindWorkflowDenied      Kind = "WorkflowDenied"
	KindConstraintViolation Kind = "ConstraintViolation"
	KindSchemaViolation     Kind = "StructuralSchemaViolation"
	KindIntegrityViolation  Kind = "IntegrityViolation"
	KindNotFound            Kind = "NotFound"
	KindStoreUnavailable    Kind = "StoreUnavailable"
	KindInvalidArgument     Kind = "InvalidArgument"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrPolicyDenied        = errors.New("policy denied")
	ErrWorkflowDenied      = errors.New("workflow denied")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrSchemaViolation     = errors.New("structural schema violation")
	ErrIntegrityViolation  = errors.New("integrity violation")
	ErrNotFound            = errors.New("not found")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrInvalidArgument     = errors.New("invalid argument")
)

var sentinels = map[Kind]error{
	KindPolicyDenied:        ErrPolicyDenied,
	KindWorkflowDenied:      ErrWorkflowDenied,
	KindConstraintViolation: ErrConstraintViolation,
	KindSchemaViolation:     ErrSchemaViolation,
	KindIntegrityViolation:  ErrIntegrityViolation,
	KindNotFound:            ErrNotFound,
	KindStoreUnavailable:    ErrStoreUnavailable,
	KindInvalidArgument:     ErrInvalidArgument,
}

var outcomes = map[Kind]string{
	KindPolicyDenied:        metrics.OutcomePolicyDenied,
	KindWorkflowDenied:      metrics.OutcomeWorkflowDenied,
	KindConstraintViolation: metrics.OutcomeConstraintViolation,
	KindSchemaViolation:     metrics.OutcomeSchemaViolation,
	KindIntegrityViolation:  metrics.OutcomeIntegrity,
	KindNotFound:            metrics.OutcomeNotFound,
	KindStoreUnavailable:    metrics.OutcomeStoreUnavailable,
	KindInvalidArgument:     metrics.OutcomeInvalidArgument,
}

// Error is the only error type the gateway returns. It names the rule that
// fired and, when one exists, how to satisfy it.
type Error struct {
	Kind    Kind
	Rule    string
	Message string
	// Reasons lists every failing constraint message.
	Reasons []string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Rule != "" {
		b.WriteString(" [" + e.Rule + "]")
	}
	b.WriteString(": " + e.Message)
	for _, r := range e.Reasons {
		b.WriteString("\n  - " + r)
	}
	if e.Hint != "" {
		b.WriteString("\nHint: " + e.Hint)
	}
	return b.String()
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, rule, format string, args ...any) *Error {
	return &Error{Kind: kind, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) *Error {
	return newError(KindInvalidArgument, "arguments", format, args...)
}

// translate converts any error into an *Error. Store sentinels become
// taxonomy kinds; anything unrecognised is an availability failure.
func translate(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}

	wrap := func(kind Kind, rule, msg string) *Error {
		return &Error{Kind: kind, Rule: rule, Message: msg, Err: err}
	}
	switch {
	case errors.Is(err, graph.ErrNotFound):
		return wrap(KindNotFound, "existence", err.Error())
	case errors.Is(err, graph.ErrCardinality):
		return wrap(KindConstraintViolation, "cardinality", err.Error())
	case errors.Is(err, graph.ErrExists):
		return wrap(KindIntegrityViolation, "unique-uid", err.Error())
	case errors.Is(err, graph.ErrTypeMismatch):
		return wrap(KindIntegrityViolation, "immutable-type", err.Error())
	case errors.Is(err, graph.ErrHasChildren):
		return wrap(KindIntegrityViolation, "leaf-only-deletion", err.Error())
	case errors.Is(err, graph.ErrIsCursor):
		return wrap(KindIntegrityViolation, "cursor-location", err.Error())
	case errors.Is(err, graph.ErrProtected):
		return wrap(KindIntegrityViolation, "protected-meta-type", err.Error())
	case errors.Is(err, graph.ErrSoleInbound):
		return wrap(KindIntegrityViolation, "orphan-prevention", err.Error())
	case errors.Is(err, policy.ErrUnavailable):
		return wrap(KindStoreUnavailable, "meta-graph", err.Error())
	case errors.Is(err, embedding.ErrUnavailable):
		return wrap(KindStoreUnavailable, "embedding-provider", err.Error())
	default:
		return wrap(KindStoreUnavailable, "store", err.Error())
	}
}

// KindOf returns the kind of a gateway error, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return translate(err).Kind
}
