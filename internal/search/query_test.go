package search

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/errors"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Query
		wantErr string
	}{
		{name: "pan default limit", raw: "pan=abcde1234f", want: Query{PAN: "ABCDE1234F", Limit: 100}},
		{name: "pan with spaces", raw: "pan=+ABCDE+1234F+", want: Query{PAN: "ABCDE1234F", Limit: 100}},
		{name: "name normalised", raw: "seed_name=John%20%20DOE.", want: Query{Name: "john doe", Limit: 100}},
		{name: "pan wins", raw: "pan=ABCDE1234F&seed_name=John", want: Query{PAN: "ABCDE1234F", Limit: 100}},
		{name: "blank pan falls to name", raw: "pan=%20&seed_name=Jane", want: Query{Name: "jane", Limit: 100}},
		{name: "limit", raw: "pan=A&limit=50", want: Query{PAN: "A", Limit: 50}},
		{name: "limit clamped", raw: "pan=A&limit=999999", want: Query{PAN: "A", Limit: 1000}},
		{name: "expand", raw: "pan=A&expand=true", want: Query{PAN: "A", Limit: 100, Expand: true}},
		{name: "missing", raw: "", wantErr: MissingKeyDetail},
		{name: "both blank", raw: "pan=&seed_name=%20%20", wantErr: MissingKeyDetail},
		{name: "limit zero", raw: "pan=A&limit=0", wantErr: "limit must be a positive integer"},
		{name: "limit negative", raw: "pan=A&limit=-5", wantErr: "limit must be a positive integer"},
		{name: "limit text", raw: "pan=A&limit=ten", wantErr: "limit must be a positive integer"},
		{name: "expand junk", raw: "pan=A&expand=maybe", wantErr: "expand must be a boolean"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.raw)
			require.NoError(t, err)
			got, err := ParseQuery(values, 100, 1000)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, apperrors.Detail(err))
				assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatusCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryMissingIsSentinel(t *testing.T) {
	_, err := ParseQuery(url.Values{}, 100, 1000)
	assert.True(t, errors.Is(err, apperrors.ErrMissingParameter))
}

func TestQueryKey(t *testing.T) {
	kind, v := Query{PAN: "ABCDE1234F", Name: "x"}.Key()
	assert.Equal(t, KeyPAN, kind)
	assert.Equal(t, "ABCDE1234F", v)

	kind, v = Query{Name: "john doe"}.Key()
	assert.Equal(t, KeyName, kind)
	assert.Equal(t, "john doe", v)
}
