package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceClassMapsKnownSuffixes(t *testing.T) {
	assert.Equal(t, "pe", resourceClass("cluster0.pe"))
	assert.Equal(t, "pe", resourceClass("cluster0.pe1"+".pe"))
	assert.Equal(t, "mem", resourceClass("cluster0.mem"))
	assert.Equal(t, "", resourceClass("cluster0.gpu"))
	assert.Equal(t, "", resourceClass(""))
}

func TestNewCgroupProxyDefaultsParent(t *testing.T) {
	p := NewCgroupProxy("")
	assert.Equal(t, "/bbque", p.parent)

	p = NewCgroupProxy("/custom")
	assert.Equal(t, "/custom", p.parent)
}
