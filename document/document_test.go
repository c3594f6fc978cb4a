package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentFields(t *testing.T) {
	doc := New("User").Set("name", "Bob").Set("age", 30)

	assert.Equal(t, "User", doc.Class())
	assert.Equal(t, "", doc.ID())
	assert.Equal(t, []string{"age", "name"}, doc.Fields())
	assert.True(t, doc.Has("name"))

	doc.Unset("name")
	assert.False(t, doc.Has("name"))
	assert.Nil(t, doc.Get("name"))

	doc.SetID("1")
	assert.Equal(t, "User(1)", doc.String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "managed", StateManaged.String())
	assert.Equal(t, "State(9)", State(9).String())
}
