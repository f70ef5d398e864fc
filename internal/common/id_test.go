package common

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPointIDDeterministic(t *testing.T) {
	a := PointID(1, "projects", "BDP")
	b := PointID(1, "projects", "BDP")
	assert.Equal(t, a, b)

	// The id is UUIDv5 over the DNS namespace of "<tenant>_<table>_<record>".
	expected := uuid.NewSHA1(uuid.NameSpaceDNS, []byte("1_projects_BDP")).String()
	assert.Equal(t, expected, a)

	parsed, err := uuid.Parse(a)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestPointIDDistinguishesInputs(t *testing.T) {
	base := PointID(1, "projects", "BDP")
	assert.NotEqual(t, base, PointID(2, "projects", "BDP"))
	assert.NotEqual(t, base, PointID(1, "work_items", "BDP"))
	assert.NotEqual(t, base, PointID(1, "projects", "OTHER"))
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "tenant_4_work_items", CollectionName(4, "work_items"))
}

func TestNewJobTokenUnique(t *testing.T) {
	assert.NotEqual(t, NewJobToken(), NewJobToken())
}

func TestMaskCredential(t *testing.T) {
	assert.Equal(t, "****", MaskCredential("short"))
	assert.Equal(t, "abcd...wxyz", MaskCredential("abcdefghijklmnopqrstuvwxyz"))
}
