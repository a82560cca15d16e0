package convert

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"routecodex/internal/translator"
)

func TestConvertStreamPassesThroughWithTerminator(t *testing.T) {
	reg := translator.NewRegistry()
	c := New(reg)

	body := "data: {\"chunk\":1}\n\ndata: [DONE]\n\n"
	out, err := c.ConvertStream(context.Background(), strings.NewReader(body), Context{
		EntryEndpoint: "/v1/chat/completions",
	})
	require.NoError(t, err)

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	require.Equal(t, body, string(data))
}

func TestConvertStreamMissingTerminatorIsFatal(t *testing.T) {
	reg := translator.NewRegistry()
	c := New(reg)

	body := "data: {\"chunk\":1}\n\n"
	out, err := c.ConvertStream(context.Background(), strings.NewReader(body), Context{
		EntryEndpoint: "/v1/chat/completions",
	})
	require.NoError(t, err)

	_, err = io.ReadAll(out)
	require.Error(t, err)
}
