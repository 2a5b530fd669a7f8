package hunyuan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Regression test for the signature chain: fixed credentials, timestamp and
// payload must always produce the same Authorization header.
func TestBuildAuthorization_ReferenceValue(t *testing.T) {
	body := []byte(`{"Num":1,"Prompt":"a red ceramic teapot"}`)
	ts := time.Unix(1700000000, 0).UTC()

	got := buildAuthorization(
		"AKIDEXAMPLE",
		"examplekey",
		"ai3d.tencentcloudapi.com",
		"SubmitHunyuanTo3DJob",
		body,
		ts,
	)

	want := "TC3-HMAC-SHA256 Credential=AKIDEXAMPLE/2023-11-14/ai3d/tc3_request, " +
		"SignedHeaders=content-type;host;x-tc-action, " +
		"Signature=cc14f0b3ce4b152427a024d67b105b71dfcf968fe056ea4787022c3228f001f0"
	assert.Equal(t, want, got)
}

func TestBuildAuthorization_BodySensitive(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	a := buildAuthorization("id", "key", "host", "Action", []byte(`{"A":1}`), ts)
	b := buildAuthorization("id", "key", "host", "Action", []byte(`{"A":2}`), ts)
	assert.NotEqual(t, a, b)
}

func TestBuildAuthorization_TimestampSensitive(t *testing.T) {
	body := []byte(`{}`)
	a := buildAuthorization("id", "key", "host", "Action", body, time.Unix(1700000000, 0).UTC())
	b := buildAuthorization("id", "key", "host", "Action", body, time.Unix(1700000001, 0).UTC())
	assert.NotEqual(t, a, b)
}
