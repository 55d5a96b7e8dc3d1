package dispatch

import (
	"log/slog"
	"sync"

	"github.com/solventry/paysdk/internal/paymethod"
	"github.com/solventry/paysdk/internal/sdkerrors"
)

// Listener capabilities. A single value may implement any combination; it
// receives only the outcomes matching the interfaces it implements.

type PaymentMethodListener interface {
	OnPaymentMethodCreated(pm *paymethod.PaymentMethod)
}

type PaymentMethodsListener interface {
	OnPaymentMethodsFetched(methods []paymethod.PaymentMethod)
}

type RecoverableErrorListener interface {
	OnRecoverableError(err *sdkerrors.ErrorWithResponse)
}

type UnrecoverableErrorListener interface {
	OnUnrecoverableError(err error)
}

// Outcome is a terminal flow result: exactly one of its fields is set.
type Outcome struct {
	PaymentMethod  *paymethod.PaymentMethod
	PaymentMethods []paymethod.PaymentMethod
	Validation     *sdkerrors.ErrorWithResponse
	Err            error
}

func Success(pm *paymethod.PaymentMethod) Outcome {
	return Outcome{PaymentMethod: pm}
}

func Fetched(methods []paymethod.PaymentMethod) Outcome {
	return Outcome{PaymentMethods: methods}
}

func Recoverable(ewr *sdkerrors.ErrorWithResponse) Outcome {
	return Outcome{Validation: ewr}
}

func Unrecoverable(err error) Outcome {
	return Outcome{Err: err}
}

// FromError classifies a flow failure: a 422 validation error is recoverable,
// anything else is unrecoverable.
func FromError(err error) Outcome {
	if ewr, ok := sdkerrors.IsErrorWithResponse(err); ok && ewr.IsValidation() {
		return Recoverable(ewr)
	}
	return Unrecoverable(err)
}

// Dispatcher routes each outcome once to all currently registered listeners
// of the matching capability, in registration order. Listeners registered
// after delivery see nothing; there is no outcome buffering.
type Dispatcher struct {
	mu        sync.Mutex
	listeners []any
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

func (d *Dispatcher) Add(listener any) {
	if listener == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range d.listeners {
		if l == listener {
			return
		}
	}
	d.listeners = append(d.listeners, listener)
}

func (d *Dispatcher) Remove(listener any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l == listener {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return
		}
	}
}

// Deliver routes the outcome to the matching capability. The listener slice
// is snapshotted under the lock so a concurrent Add never races delivery.
func (d *Dispatcher) Deliver(outcome Outcome) {
	d.mu.Lock()
	snapshot := make([]any, len(d.listeners))
	copy(snapshot, d.listeners)
	d.mu.Unlock()

	switch {
	case outcome.PaymentMethod != nil:
		for _, l := range snapshot {
			if pl, ok := l.(PaymentMethodListener); ok {
				pl.OnPaymentMethodCreated(outcome.PaymentMethod)
			}
		}
	case outcome.PaymentMethods != nil:
		for _, l := range snapshot {
			if pl, ok := l.(PaymentMethodsListener); ok {
				pl.OnPaymentMethodsFetched(outcome.PaymentMethods)
			}
		}
	case outcome.Validation != nil:
		for _, l := range snapshot {
			if el, ok := l.(RecoverableErrorListener); ok {
				el.OnRecoverableError(outcome.Validation)
			}
		}
	case outcome.Err != nil:
		d.logger.Debug("delivering unrecoverable error", "error", outcome.Err)
		for _, l := range snapshot {
			if el, ok := l.(UnrecoverableErrorListener); ok {
				el.OnUnrecoverableError(outcome.Err)
			}
		}
	}
}
