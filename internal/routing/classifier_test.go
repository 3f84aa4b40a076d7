package routing

import "testing"

func TestClassifier_AllowlistWins(t *testing.T) {
	t.Parallel()

	a := Allowlist{
		Version: 1,
		Entrypoints: map[string]Entrypoint{
			"server": {Routes: []Route{
				{Path: "/system/health", Methods: []string{"GET"}, RouteClass: "ops"},
				{Path: "/system/action/handle_request", Methods: []string{"POST"}, RouteClass: "public_api"},
				{Path: "/system/action/handle_request_internal", Methods: []string{"POST"}, RouteClass: "internal_api"},
			}},
		},
	}
	c, err := NewClassifier(a, "server")
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]RouteClass{
		"/system/health":                            RouteClassOps,
		"/system/action/handle_request":             RouteClassPublicAPI,
		"/system/action/handle_request_internal":    RouteClassInternalAPI,
		"/metrics":                                  RouteClassOps,
		"/system/presenter":                         RouteClassPublicAPI,
		"/system/presenter/handle_request_internal": RouteClassInternalAPI,
		"/anything-else":                            RouteClassPublicAPI,
	}
	for path, want := range cases {
		if got := c.Classify(path); got != want {
			t.Fatalf("path=%s got=%q want=%q", path, got, want)
		}
	}
}

func TestClassifier_InternalSuffixSegmentBoundary(t *testing.T) {
	t.Parallel()

	a := Allowlist{
		Version: 1,
		Entrypoints: map[string]Entrypoint{
			"server": {Routes: []Route{{Path: "/system/health", Methods: []string{"GET"}, RouteClass: "ops"}}},
		},
	}
	c, err := NewClassifier(a, "server")
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Classify("/system/action/x_internal"); got != RouteClassInternalAPI {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/system/action/_internal"); got == RouteClassInternalAPI {
		t.Fatalf("unexpected internal api: %q", got)
	}
	if got := c.Classify("/other/x_internal"); got == RouteClassInternalAPI {
		t.Fatalf("unexpected internal api: %q", got)
	}
}

func TestNewClassifier_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: nil}}}, "server")
	if err == nil {
		t.Fatal("expected empty routes error")
	}

	_, err = NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{"server": {Routes: []Route{{}}}}}, "server")
	if err == nil {
		t.Fatal("expected invalid route error")
	}

	_, err = NewClassifier(Allowlist{Version: 1, Entrypoints: map[string]Entrypoint{}}, "server")
	if err == nil {
		t.Fatal("expected missing entrypoint error")
	}
}

func TestClassifier_PathPattern(t *testing.T) {
	t.Parallel()

	a := Allowlist{
		Version: 1,
		Entrypoints: map[string]Entrypoint{
			"server": {Routes: []Route{
				{Path: "/system/health", Methods: []string{"GET"}, RouteClass: "ops"},
				{Path: "/system/debug/{probe}", Methods: []string{"GET"}, RouteClass: "ops"},
			}},
		},
	}
	c, err := NewClassifier(a, "server")
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Classify("/system/debug/goroutines"); got != RouteClassOps {
		t.Fatalf("got=%q", got)
	}
}
