// Package clients provides an HTTP client for the sidechain registry API and
// DNS SRV based discovery of registry servers.
//
// Requests carry the caller identity in the X-Caller-Address header. A client
// created WithSigner also signs every request so it can talk to servers that
// run in signature mode:
//
//	key, _ := crypto.HexToECDSA(hexKey)
//	client := clients.NewRegistryClient("http://localhost:8080", clients.WithSigner(key))
//	if err := client.AddSidechain(sidechain, 7); errors.Is(err, interfaces.ErrAlreadyActive) {
//		// already registered
//	}
//
// Error responses are mapped back to the registry's sentinel errors.
package clients
