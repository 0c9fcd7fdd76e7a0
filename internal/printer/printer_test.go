package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
)

func TestCtx_DefaultsWhenMissing(t *testing.T) {
	assert.NotNil(t, Ctx(context.Background()))

	var buf bytes.Buffer
	p := New(&buf)
	assert.Same(t, p, Ctx(NewContext(context.Background(), p)))
}

func TestFatalError_Plain(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).FatalError(errors.New("boom"))

	assert.Contains(t, buf.String(), "Error")
	assert.Contains(t, buf.String(), "boom")
}

func TestFatalError_FieldErrors(t *testing.T) {
	var buf bytes.Buffer
	fieldErrs := criterio.FieldErrors{
		{Field: "api.base_url", Err: errors.New("missing host")},
	}

	New(&buf).FatalError(fmt.Errorf("load config: %w", fieldErrs))

	out := buf.String()
	assert.Contains(t, out, "Validation Error")
	assert.Contains(t, out, "load config")
	assert.Contains(t, out, "api.base_url: ")
	assert.Contains(t, out, "missing host")
}

func TestFatalError_Nil(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).FatalError(nil)
	assert.Empty(t, buf.String())
}

func TestKeyValue(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).KeyValue("state", "authenticated")

	assert.Contains(t, buf.String(), "state:")
	assert.Contains(t, buf.String(), "authenticated\n")
}

func TestTransition(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)

	p.Transition("", "unauthenticated")
	p.Transition("authenticating", "authenticated")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), Arrow+" unauthenticated")
	assert.Contains(t, string(lines[1]), "authenticating "+Arrow)
}

func TestRaw_SingleTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Raw("card\n\n")
	assert.Equal(t, "card\n", buf.String())
}

func TestSuccess_Details(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Success("Logged in", "token saved to /tmp/auth.json")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], Check+" Logged in")
	assert.Contains(t, lines[1], "token saved to /tmp/auth.json")
}

func TestInfof(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Infof("skipped: %s", "configuration is invalid")
	assert.Contains(t, buf.String(), Dot+" skipped: configuration is invalid")
}
