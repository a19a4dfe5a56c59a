package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/api/proyecto":                 "/api/proyecto",
		"/api/proyecto/id/42":           "/api/proyecto/id/:value",
		"/api/usuario/email/a@b.c":      "/api/usuario/email/:value",
		"/api/procedures/execute":       "/api/procedures/execute",
		"/api/auditoria?tabla=proyecto": "/api/auditoria",
		"/healthz":                      "/healthz",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
