package client

// Location names the host surfaces the client core can ask to be shown. The
// host decides what each one means (a route, a screen, a login prompt).
type Location string

const (
	LocationSignIn    Location = "sign-in"
	LocationForbidden Location = "forbidden"
)

// Navigator is the host's navigation contract. At guards repeated requests:
// a 403 while already at the forbidden location is a no-op.
type Navigator interface {
	Goto(loc Location)
	At(loc Location) bool
}

// nopNavigator is used when the host supplies no navigator, e.g. in
// headless tooling.
type nopNavigator struct{}

func (nopNavigator) Goto(Location) {}

func (nopNavigator) At(Location) bool { return false }
