package web

import (
	"context"
	"errors"
	"net"
	"sort"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestAdvertise_RegisterError(t *testing.T) {
	orig := registerFunc
	defer func() { registerFunc = orig }()

	var gotName, gotService string
	var gotPort int
	var gotTxt []string
	registerFunc = func(instance, service, domain string, port int, text []string, _ []net.Interface) (*zeroconf.Server, error) {
		gotName, gotService, gotPort, gotTxt = instance, service, port, text
		return nil, errors.New("no multicast interface")
	}

	err := Advertise(context.Background(), "RotaGo", 8080, map[string]string{"backend": "simulator", "path": "/"})
	assert.ErrorContains(t, err, "mdns register")
	assert.Equal(t, "RotaGo", gotName)
	assert.Equal(t, "_rotago._tcp", gotService)
	assert.Equal(t, 8080, gotPort)
	sort.Strings(gotTxt)
	assert.Equal(t, []string{"backend=simulator", "path=/"}, gotTxt)
}
