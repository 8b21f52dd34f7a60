package support

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/MeKo-Tech/spotter/internal/testutil"
	"github.com/cucumber/godog"
	"gopkg.in/yaml.v3"
)

// sceneByName maps the scene names used in feature files to fixtures.
func sceneByName(name string) (testutil.Scene, error) {
	switch name {
	case "street":
		return testutil.StreetScene(), nil
	case "empty":
		return testutil.EmptyScene(300, 300), nil
	default:
		return testutil.Scene{}, fmt.Errorf("unknown scene %q", name)
	}
}

// aSceneImage renders a named scene into the temp directory as <name>.png.
func (testCtx *TestContext) aSceneImage(name string) error {
	scene, err := sceneByName(name)
	if err != nil {
		return err
	}
	_, err = scene.Save(testCtx.TempDir)
	return err
}

// aLabelFileWithLabels writes a comma separated list of labels to file.
func (testCtx *TestContext) aLabelFileWithLabels(file, list string) error {
	names := strings.Split(list, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}
	_, err := testutil.WriteLabelFile(testCtx.TempDir, file, names)
	return err
}

// aTextFile writes a file that is not an image.
func (testCtx *TestContext) aTextFile(file string) error {
	return os.WriteFile(testCtx.TempPath(file), []byte("not an image\n"), 0o600)
}

// theModelsDirectoryIsEmpty points SPOTTER_MODELS_DIR at an empty directory
// so no model can be found.
func (testCtx *TestContext) theModelsDirectoryIsEmpty() error {
	dir := testCtx.TempPath("models")
	if err := testutil.EnsureDir(dir); err != nil {
		return err
	}
	testCtx.AddEnvVar("SPOTTER_MODELS_DIR", dir)
	return nil
}

// iRunCommand runs a command from the project root and records its output.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)
	testCtx.LastCommand = command

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...) //nolint:gosec // G204: commands come from feature files
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	testCtx.LastDuration = time.Since(start)
	testCtx.LastOutput = string(output)
	testCtx.LastError = err

	testCtx.LastExitCode = 0
	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	}

	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// jsonPart returns the output from the first '{' or '[' on, skipping any
// log lines printed before the document.
func jsonPart(output string) (string, error) {
	output = strings.TrimSpace(output)
	idx := strings.IndexAny(output, "{[")
	if idx < 0 {
		return "", fmt.Errorf("no JSON found in output: %s", output)
	}
	return output[idx:], nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	part, err := jsonPart(testCtx.LastOutput)
	if err != nil {
		return err
	}
	var js json.RawMessage
	if err := json.Unmarshal([]byte(part), &js); err != nil {
		return fmt.Errorf("output is not valid JSON: %w\nJSON part: %s", err, part)
	}
	return nil
}

// theJSONShouldContain checks a dotted field path in the JSON object output.
func (testCtx *TestContext) theJSONShouldContain(field string) error {
	part, err := jsonPart(testCtx.LastOutput)
	if err != nil {
		return err
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(part), &data); err != nil {
		return fmt.Errorf("failed to parse JSON object: %w", err)
	}
	return checkFieldExists(data, field)
}

func checkFieldExists(data map[string]any, field string) error {
	parts := strings.Split(field, ".")
	current := data
	for i, part := range parts {
		val, ok := current[part]
		if !ok {
			return fmt.Errorf("field '%s' not found in JSON", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return nil
		}
		next, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot navigate deeper into non-object field '%s'", part)
		}
		current = next
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidYAML() error {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(testCtx.LastOutput), &doc); err != nil {
		return fmt.Errorf("output is not valid YAML: %w\nOutput: %s", err, testCtx.LastOutput)
	}
	if len(doc) == 0 {
		return errors.New("YAML output is empty")
	}
	return nil
}

// theOutputShouldBeValidCSVWithRows checks the CSV document including its
// header row.
func (testCtx *TestContext) theOutputShouldBeValidCSVWithRows(rows int) error {
	records, err := csv.NewReader(strings.NewReader(strings.TrimSpace(testCtx.LastOutput))).ReadAll()
	if err != nil {
		return fmt.Errorf("output is not valid CSV: %w\nOutput: %s", err, testCtx.LastOutput)
	}
	if len(records) != rows {
		return fmt.Errorf("expected %d CSV rows, got %d\nOutput: %s", rows, len(records), testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldHaveLines(n int) error {
	lines := strings.Split(strings.TrimRight(testCtx.LastOutput, "\n"), "\n")
	if len(lines) != n {
		return fmt.Errorf("expected %d lines, got %d\nOutput: %s", n, len(lines), testCtx.LastOutput)
	}
	return nil
}

// theErrorShouldMention matches case-insensitively against output and error.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil && testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}

	full := testCtx.LastOutput
	if testCtx.LastError != nil {
		full += " " + testCtx.LastError.Error()
	}
	if !strings.Contains(strings.ToLower(full), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, full)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(file, expected string) error {
	path := testCtx.substituteCommandVariables(file)
	data, err := os.ReadFile(path) //nolint:gosec // G304: test artifact path
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	if !bytes.Contains(data, []byte(expected)) {
		return fmt.Errorf("file %s does not contain '%s'\nContent: %s", path, expected, data)
	}
	return nil
}

// RegisterCommonSteps registers fixture, command and output steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a "([^"]*)" scene image$`, testCtx.aSceneImage)
	sc.Step(`^a label file "([^"]*)" with labels "([^"]*)"$`, testCtx.aLabelFileWithLabels)
	sc.Step(`^a text file "([^"]*)"$`, testCtx.aTextFile)
	sc.Step(`^the models directory is empty$`, testCtx.theModelsDirectoryIsEmpty)

	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)

	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the output should be valid YAML$`, testCtx.theOutputShouldBeValidYAML)
	sc.Step(`^the output should be valid CSV with (\d+) rows$`, testCtx.theOutputShouldBeValidCSVWithRows)
	sc.Step(`^the output should have (\d+) lines$`, testCtx.theOutputShouldHaveLines)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}
