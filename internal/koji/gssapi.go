package koji

import "github.com/ubccr/kerby"

// negotiateToken runs the first client step of a GSSAPI handshake against
// service ("HTTP@host") with the default credential cache.
func negotiateToken(service string) (string, error) {
	kc := new(kerby.KerbClient)
	if err := kc.Init(service, ""); err != nil {
		return "", err
	}
	defer kc.Clean()
	if err := kc.Step(""); err != nil {
		return "", err
	}
	return kc.Response(), nil
}
