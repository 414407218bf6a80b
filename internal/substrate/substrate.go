// Package substrate defines the authority-only substrate plugin boundary
// (§4.9, §6): transfer_in/transfer_out/modify actions against physical
// resources, reported back asynchronously via configuration_complete.
package substrate

import "github.com/meridianfed/fedres/internal/kernel/resource"

// CompletionCallback is invoked by a Plugin implementation once an
// asynchronous configuration action finishes, successfully or not.
type CompletionCallback func(action, token string, props resource.Properties, err error)

// Plugin is the substrate contract the authority-side kernel drives
// (resource.Actuator is the narrower subset UnitSet itself needs).
type Plugin interface {
	TransferIn(unit *resource.Unit) (token string, err error)
	TransferOut(unit *resource.Unit) (token string, err error)
	Modify(unit *resource.Unit, modified resource.Sliver) (token string, err error)
	UpdateProps(unit *resource.Unit, props resource.Properties) (token string, err error)
	// OnComplete registers cb to be invoked when a previously issued
	// action's configuration_complete callback fires.
	OnComplete(cb CompletionCallback)
}
