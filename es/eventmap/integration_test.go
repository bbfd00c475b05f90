package eventmap_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// TestGeneratedCodeExecution generates code against a scratch module,
// compiles it, and runs the generated tests to prove the generator's output
// actually builds and round-trips through a real serializer.Registry.
func TestGeneratedCodeExecution(t *testing.T) {
	tmpDir := t.TempDir()

	eventsDir := filepath.Join(tmpDir, "events")
	v1Dir := filepath.Join(eventsDir, "v1")
	v2Dir := filepath.Join(eventsDir, "v2")

	if err := os.MkdirAll(v1Dir, 0o755); err != nil {
		t.Fatalf("Failed to create v1 dir: %v", err)
	}
	if err := os.MkdirAll(v2Dir, 0o755); err != nil {
		t.Fatalf("Failed to create v2 dir: %v", err)
	}

	v1Code := `package v1

type OrderCreated struct {
	OrderID    string  ` + "`json:\"order_id\"`" + `
	CustomerID string  ` + "`json:\"customer_id\"`" + `
	Amount     float64 ` + "`json:\"amount\"`" + `
}

type OrderCancelled struct {
	OrderID string ` + "`json:\"order_id\"`" + `
	Reason  string ` + "`json:\"reason\"`" + `
}
`
	if err := os.WriteFile(filepath.Join(v1Dir, "order_events.go"), []byte(v1Code), 0o644); err != nil {
		t.Fatalf("Failed to write v1 events: %v", err)
	}

	v2Code := `package v2

type OrderCreated struct {
	OrderID    string  ` + "`json:\"order_id\"`" + `
	CustomerID string  ` + "`json:\"customer_id\"`" + `
	Amount     float64 ` + "`json:\"amount\"`" + `
	Currency   string  ` + "`json:\"currency\"`" + `
	TaxAmount  float64 ` + "`json:\"tax_amount\"`" + `
}
`
	if err := os.WriteFile(filepath.Join(v2Dir, "order_events.go"), []byte(v2Code), 0o644); err != nil {
		t.Fatalf("Failed to write v2 events: %v", err)
	}

	repoRoot, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	repoRoot = filepath.Join(repoRoot, "..", "..")
	repoRoot, err = filepath.Abs(repoRoot)
	if err != nil {
		t.Fatalf("Failed to determine repo root: %v", err)
	}

	goModContent := `module testevents

go 1.24

require github.com/riftlog/riftlog v0.0.0

replace github.com/riftlog/riftlog => ` + repoRoot + `
`
	if err = os.WriteFile(filepath.Join(tmpDir, "go.mod"), []byte(goModContent), 0o644); err != nil {
		t.Fatalf("Failed to write go.mod: %v", err)
	}

	downloadCmd := exec.Command("go", "mod", "download")
	downloadCmd.Dir = tmpDir
	if out, err := downloadCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to download dependencies: %v\nOutput: %s", err, out)
	}

	outputDir := filepath.Join(tmpDir, "generated")
	if err = os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatalf("Failed to create output dir: %v", err)
	}

	cmd := exec.Command("go", "run", "github.com/riftlog/riftlog/cmd/eventmap-gen",
		"-input", eventsDir,
		"-output", outputDir,
		"-package", "generated",
		"-module", "testevents/events")
	cmd.Dir = tmpDir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to run eventmap-gen: %v\nOutput: %s", err, out)
	}

	generatedFile := filepath.Join(outputDir, "event_mapping.gen.go")
	if _, err := os.Stat(generatedFile); err != nil {
		t.Fatalf("Generated file not found: %v", err)
	}

	testCode := `package generated

import (
	"testing"

	"github.com/riftlog/riftlog/es/serializer"
	"testevents/events/v1"
	"testevents/events/v2"
)

func TestRoundTripV1(t *testing.T) {
	registry := serializer.NewRegistry(nil)
	Register(registry)

	original := v1.OrderCreated{
		OrderID:    "order-123",
		CustomerID: "customer-456",
		Amount:     99.99,
	}

	eventType, err := EventTypeOf(original)
	if err != nil {
		t.Fatalf("EventTypeOf failed: %v", err)
	}
	if eventType != "OrderCreated" {
		t.Errorf("expected bare type name for v1, got %s", eventType)
	}

	payload, err := registry.Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := registry.Decode(payload, eventType)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	restored, ok := decoded.(*v1.OrderCreated)
	if !ok {
		t.Fatalf("expected *v1.OrderCreated, got %T", decoded)
	}
	if restored.OrderID != original.OrderID {
		t.Errorf("OrderID mismatch: got %s, want %s", restored.OrderID, original.OrderID)
	}
	if restored.Amount != original.Amount {
		t.Errorf("Amount mismatch: got %f, want %f", restored.Amount, original.Amount)
	}
}

func TestRoundTripV2(t *testing.T) {
	registry := serializer.NewRegistry(nil)
	Register(registry)

	original := v2.OrderCreated{
		OrderID:    "order-789",
		CustomerID: "customer-101",
		Amount:     199.99,
		Currency:   "USD",
		TaxAmount:  20.00,
	}

	eventType, err := EventTypeOf(original)
	if err != nil {
		t.Fatalf("EventTypeOf failed: %v", err)
	}
	if eventType != "OrderCreated.v2" {
		t.Errorf("expected versioned type name for v2, got %s", eventType)
	}

	payload, err := registry.Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := registry.Decode(payload, eventType)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	restored, ok := decoded.(*v2.OrderCreated)
	if !ok {
		t.Fatalf("expected *v2.OrderCreated, got %T", decoded)
	}
	if restored.Currency != original.Currency {
		t.Errorf("Currency mismatch: got %s, want %s", restored.Currency, original.Currency)
	}
}

func TestUnknownEventType(t *testing.T) {
	registry := serializer.NewRegistry(nil)
	Register(registry)

	if _, err := registry.Decode([]byte("{}"), "UnknownEvent"); err == nil {
		t.Error("Expected error for unknown event type")
	}
}
`

	if err := os.WriteFile(filepath.Join(outputDir, "integration_test.go"), []byte(testCode), 0o644); err != nil {
		t.Fatalf("Failed to write test code: %v", err)
	}

	tidyCmd := exec.Command("go", "mod", "tidy")
	tidyCmd.Dir = tmpDir
	if out, err := tidyCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to run go mod tidy: %v\nOutput: %s", err, out)
	}

	cmd = exec.Command("go", "test", "-v", "./generated")
	cmd.Dir = tmpDir
	output, err := cmd.CombinedOutput()
	t.Logf("Test output:\n%s", output)
	if err != nil {
		t.Fatalf("Generated tests failed: %v\nOutput: %s", err, output)
	}
}
