package script

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/XppaiCyberr/clash-verge-xpp/pkg/errors"
)

func testSandbox(budget time.Duration) *Sandbox {
	return New(budget, zap.NewNop())
}

func TestRunTransformsConfig(t *testing.T) {
	script := `
function main(config) {
  config.mode = "rule";
  config.rules = ["DOMAIN,example.com,DIRECT", config.rules[0]];
  return config;
}`
	input := map[string]interface{}{
		"rules": []interface{}{"MATCH,alpha"},
	}

	out, err := testSandbox(0).Run(context.Background(), "tweak", script, input)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if out["mode"] != "rule" {
		t.Errorf("expected mode set by script, got %v", out["mode"])
	}
	rules, ok := out["rules"].([]interface{})
	if !ok || len(rules) != 2 || rules[0] != "DOMAIN,example.com,DIRECT" {
		t.Errorf("unexpected rules: %v", out["rules"])
	}

	// The caller's input must stay untouched.
	if len(input["rules"].([]interface{})) != 1 {
		t.Error("script mutated the caller's input")
	}
	if _, ok := input["mode"]; ok {
		t.Error("script mutated the caller's input")
	}
}

func TestRunMissingMain(t *testing.T) {
	_, err := testSandbox(0).Run(context.Background(), "broken", "var x = 1;", nil)
	var serr *pkgerrors.ScriptError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	if !strings.Contains(serr.Detail, "main") {
		t.Errorf("unexpected detail: %s", serr.Detail)
	}
}

func TestRunScriptThrow(t *testing.T) {
	script := `function main(config) { throw new Error("bad profile"); }`
	_, err := testSandbox(0).Run(context.Background(), "thrower", script, map[string]interface{}{})
	var serr *pkgerrors.ScriptError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	if !errors.Is(err, pkgerrors.ErrScript) {
		t.Error("ScriptError must unwrap to ErrScript")
	}
	if !strings.Contains(serr.Detail, "bad profile") {
		t.Errorf("expected thrown message in detail, got %s", serr.Detail)
	}
}

func TestRunSyntaxError(t *testing.T) {
	_, err := testSandbox(0).Run(context.Background(), "syntax", "function main( {", nil)
	var serr *pkgerrors.ScriptError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
}

func TestRunNonObjectReturn(t *testing.T) {
	script := `function main(config) { return 42; }`
	_, err := testSandbox(0).Run(context.Background(), "scalar", script, map[string]interface{}{})
	var serr *pkgerrors.ScriptError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
}

func TestRunBudgetExceeded(t *testing.T) {
	script := `function main(config) { while (true) {} }`
	start := time.Now()
	_, err := testSandbox(50*time.Millisecond).Run(context.Background(), "spinner", script, map[string]interface{}{})
	var terr *pkgerrors.TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if terr.Profile != "spinner" {
		t.Errorf("unexpected profile in error: %s", terr.Profile)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("interrupt took far longer than the budget")
	}
}

func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	script := `function main(config) { while (true) {} }`
	_, err := testSandbox(10*time.Second).Run(ctx, "spinner", script, map[string]interface{}{})
	var serr *pkgerrors.ScriptError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
}

func TestRunConsoleCaptured(t *testing.T) {
	script := `
function main(config) {
  console.log("seen", 2, "args");
  console.warn("careful");
  throw "stop";
}`
	_, err := testSandbox(0).Run(context.Background(), "noisy", script, map[string]interface{}{})
	var serr *pkgerrors.ScriptError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ScriptError, got %v", err)
	}
	if len(serr.Console) != 2 || serr.Console[0] != "seen 2 args" || serr.Console[1] != "careful" {
		t.Errorf("unexpected captured console: %v", serr.Console)
	}
}

func TestRunNoHostCapabilities(t *testing.T) {
	for _, name := range []string{"require", "process", "fetch"} {
		script := `function main(config) { ` + name + `("x"); return config; }`
		_, err := testSandbox(0).Run(context.Background(), "escape", script, map[string]interface{}{})
		var serr *pkgerrors.ScriptError
		if !errors.As(err, &serr) {
			t.Errorf("%s: expected ScriptError, got %v", name, err)
		}
	}
}
