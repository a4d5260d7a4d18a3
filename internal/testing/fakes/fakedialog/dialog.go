// Package fakedialog provides a test fake for ports.DialogProvider.
package fakedialog

import "github.com/acolita/netpush-mcp/internal/ports"

// Provider returns a canned form result.
type Provider struct {
	// Result is returned by DeviceConfigForm.
	Result ports.DeviceFormData
	// Err, when set, is returned instead of Result.
	Err error
	// Calls counts DeviceConfigForm invocations.
	Calls int
	// Prefill is the data passed to the last DeviceConfigForm call.
	Prefill ports.DeviceFormData
}

// New returns a fake dialog provider.
func New() *Provider {
	return &Provider{}
}

// Confirming returns a provider whose form is accepted unchanged.
func Confirming() *Provider {
	return &Provider{Result: ports.DeviceFormData{Confirmed: true}}
}

// DeviceConfigForm records the call and returns Result. When Result has no name,
// the prefill is returned with Result.Confirmed applied.
func (p *Provider) DeviceConfigForm(prefill ports.DeviceFormData) (ports.DeviceFormData, error) {
	p.Calls++
	p.Prefill = prefill
	if p.Err != nil {
		return prefill, p.Err
	}
	if p.Result.Name == "" {
		out := prefill
		out.Confirmed = p.Result.Confirmed
		return out, nil
	}
	return p.Result, nil
}
