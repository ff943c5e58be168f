package profiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullyRegistered(t *testing.T) {
	full := Profile{FullName: "Ada", Phone: "+1", Location: "Berlin", EmailVerified: true, PhoneVerified: true}
	assert.True(t, full.FullyRegistered())

	cases := map[string]func(p *Profile){
		"no name":            func(p *Profile) { p.FullName = "  " },
		"no phone":           func(p *Profile) { p.Phone = "" },
		"no location":        func(p *Profile) { p.Location = "" },
		"email not verified": func(p *Profile) { p.EmailVerified = false },
		"phone not verified": func(p *Profile) { p.PhoneVerified = false },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := full
			mutate(&p)
			assert.False(t, p.FullyRegistered())
		})
	}
}
