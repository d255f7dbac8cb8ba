package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
)

type lineInput struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=100"`
}

type orderInput struct {
	Phone string      `json:"phone" validate:"required,phone"`
	Items []lineInput `json:"items" validate:"required,min=1,dive"`
}

func decodeString(t *testing.T, body string, dest any, optional bool) error {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if optional {
		return DecodeOptionalJSONBody(httptest.NewRecorder(), req, dest)
	}
	return DecodeJSONBody(httptest.NewRecorder(), req, dest)
}

func details(t *testing.T, err error) map[string]string {
	t.Helper()
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)
	d, _ := pkgerrors.As(err).Details().(map[string]string)
	return d
}

func TestDecodeJSONBodyValid(t *testing.T) {
	var in orderInput
	require.NoError(t, decodeString(t, `{"phone":"+880 1711-223344","items":[{"quantity":2}]}`, &in, false))
	assert.Equal(t, 2, in.Items[0].Quantity)
}

func TestDecodeJSONBodyFieldErrors(t *testing.T) {
	var in orderInput
	err := decodeString(t, `{"phone":"call me","items":[{"quantity":0},{"quantity":101}]}`, &in, false)
	d := details(t, err)
	assert.Equal(t, "must be a valid phone number", d["phone"])
	assert.Equal(t, "is required", d["items[0].quantity"])
	assert.Equal(t, "must be at most 100", d["items[1].quantity"])
}

func TestDecodeJSONBodyRejectsShapeProblems(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"syntax":        `{"phone":`,
		"unknown field": `{"phone":"01711223344","items":[{"quantity":1}],"admin":true}`,
		"wrong type":    `{"phone":1,"items":[]}`,
		"two objects":   `{"phone":"01711223344","items":[{"quantity":1}]} {}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var in orderInput
			err := decodeString(t, body, &in, false)
			assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}

	var in orderInput
	d := details(t, decodeString(t, `{"phone":"01711223344","items":[{"quantity":1}],"admin":true}`, &in, false))
	assert.Equal(t, "is not allowed", d["admin"])
}

func TestDecodeJSONBodyEnforcesSizeCap(t *testing.T) {
	var in orderInput
	body := `{"phone":"` + strings.Repeat("1", MaxBodyBytes) + `"}`
	err := decodeString(t, body, &in, false)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Contains(t, err.Error(), "exceeds")
}

func TestDecodeOptionalJSONBody(t *testing.T) {
	var reason struct {
		Reason string `json:"reason" validate:"omitempty,max=5"`
	}
	require.NoError(t, decodeString(t, ``, &reason, true))
	require.Error(t, decodeString(t, `{"reason":"far too long"}`, &reason, true))
}

func TestQueryParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=30&unreadOnly=1&bad=x", nil)

	n, err := QueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	n, err = QueryInt(req, "missing", 25, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	_, err = QueryInt(req, "limit", 25, 1, 10)
	assert.Equal(t, "must be between 1 and 10", details(t, err)["limit"])

	_, err = QueryInt(req, "bad", 25, 1, 10)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	b, err := QueryBool(req, "unreadOnly", false)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = QueryBool(req, "bad", false)
	assert.Equal(t, "must be true or false", details(t, err)["bad"])
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "changed my mind", CleanText("  changed my mind \x00 ", 0))
	assert.Equal(t, "line1\nline2", CleanText("line1\nline2\x07", 0))
	assert.Equal(t, "ঔষধ", CleanText("ঔষধ বাতিল", 3))
	assert.Equal(t, "ab", CleanText("ab   cd", 4))
}
