package classifier

import "testing"

func TestClassify_ErrorForcesIdle(t *testing.T) {
	info := Classify("panic: runtime error: index out of range")
	if info.Type != TypeIdle {
		t.Errorf("expected idle on panic, got: %s", info.Type)
	}
	if !info.HasError {
		t.Error("expected HasError true")
	}
}

func TestClassify_FileOpExtractsFileName(t *testing.T) {
	info := Classify(`Creating file: "internal/tasks/types.go"`)
	if info.Type != TypeFileOp {
		t.Errorf("expected file_operation, got: %s", info.Type)
	}
	if info.WorkingOnFile != "internal/tasks/types.go" {
		t.Errorf("expected extracted file name, got: %q", info.WorkingOnFile)
	}
}

func TestClassify_CommandExtraction(t *testing.T) {
	info := Classify("$ go test ./...")
	if info.Type != TypeCommand {
		t.Errorf("expected command, got: %s", info.Type)
	}
	if info.ExecutingCommand == "" {
		t.Error("expected extracted command")
	}
}

func TestClassify_ShortCommandRejected(t *testing.T) {
	_, ok := extractCommand("$ ls")
	if ok {
		t.Error("expected 2-char command to be rejected")
	}
}

func TestClassify_NoMatchIsIdleZeroConfidence(t *testing.T) {
	info := Classify("")
	if info.Type != TypeIdle || info.Confidence != 0 {
		t.Errorf("expected idle/0, got: %s/%f", info.Type, info.Confidence)
	}
}

func TestClassify_ConfidenceCappedAtOne(t *testing.T) {
	info := Classify(`panic: error: "boom.go" $ go build ` + "```")
	if info.Confidence > 1 {
		t.Errorf("expected confidence capped at 1, got: %f", info.Confidence)
	}
}
