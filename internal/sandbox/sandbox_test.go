package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"faasd/internal/store"
)

func TestRunStaticAssetReturnsVerbatim(t *testing.T) {
	sb := New()
	d := store.Descriptor{Language: string(store.LanguageAsset)}
	out, err := sb.Run(context.Background(), d, []byte("<h1>hi</h1>"), "")
	require.NoError(t, err)
	require.Equal(t, "<h1>hi</h1>", string(out))
}

func TestRunScriptCapturesConsoleLog(t *testing.T) {
	sb := New()
	d := store.Descriptor{Language: string(store.LanguageScript), Entrypoint: "main"}
	out, err := sb.Run(context.Background(), d, []byte(`console.log("HELLO")`), "")
	require.NoError(t, err)
	require.Equal(t, "HELLO\n", string(out))
}

func TestRunScriptSeesPayloadGlobal(t *testing.T) {
	sb := New()
	d := store.Descriptor{Language: string(store.LanguageScript), Entrypoint: "main"}
	out, err := sb.Run(context.Background(), d, []byte(`console.log("got:" + payload)`), "42")
	require.NoError(t, err)
	require.Equal(t, "got:42\n", string(out))
}

func TestRunScriptTrapBecomesError(t *testing.T) {
	sb := New()
	d := store.Descriptor{Language: string(store.LanguageScript), Entrypoint: "main"}
	_, err := sb.Run(context.Background(), d, []byte(`throw new Error("boom")`), "")
	require.Error(t, err)
}

func TestRunUnknownLanguageIsAnError(t *testing.T) {
	sb := New()
	d := store.Descriptor{Language: "cobol"}
	_, err := sb.Run(context.Background(), d, []byte(``), "")
	require.Error(t, err)
}
