// errors.go: structured error definitions for the envforge system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
)

// Error codes for the envforge system
const (
	// Variable errors (1100-1199)
	ErrCodeRequiredVariableMissing = "VARIABLE_1101"
	ErrCodeValidationFailed        = "VARIABLE_1102"
	ErrCodeCoercionFailed          = "VARIABLE_1103"

	// Dependency errors (1200-1299)
	ErrCodeDependencyLoadFailed         = "DEPENDENCY_1201"
	ErrCodeDependencyConflict           = "DEPENDENCY_1202"
	ErrCodeVersionConstraintUnsatisfied = "DEPENDENCY_1203"
	ErrCodeDeclarationNotFound          = "DEPENDENCY_1204"
	ErrCodeDependencyCycle              = "DEPENDENCY_1205"

	// Plugin pipeline errors (1300-1399)
	ErrCodePluginHookError         = "PLUGIN_1301"
	ErrCodeCyclicPluginDependency  = "PLUGIN_1302"
	ErrCodeDuplicatePluginName     = "PLUGIN_1303"
	ErrCodeMissingPluginDependency = "PLUGIN_1304"
	ErrCodeInvalidPluginName       = "PLUGIN_1305"
	ErrCodeArtifactWriteFailed     = "PLUGIN_1306"
	ErrCodePluginWarning           = "PLUGIN_1307"

	// Hot reload errors (1400-1499)
	ErrCodeReloadFailed       = "RELOAD_1401"
	ErrCodeSnapshotNotFound   = "RELOAD_1402"
	ErrCodeReloadInProgress   = "RELOAD_1403"
	ErrCodeReloadNotAvailable = "RELOAD_1404"

	// Executor errors (1500-1599)
	ErrCodeTaskFailed = "EXECUTOR_1501"

	// Configuration management errors (1700-1799)
	ErrCodeConfigNotFound        = "CONFIG_1701"
	ErrCodeConfigParseError      = "CONFIG_1702"
	ErrCodeConfigValidationError = "CONFIG_1703"
	ErrCodeConfigWatcherError    = "CONFIG_1704"
	ErrCodeConfigPathError       = "CONFIG_1705"
)

// Severity levels attached to errors, warnings and conflicts.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Variable error constructors

func NewRequiredVariableMissingError(names ...string) *errors.Error {
	return errors.New(ErrCodeRequiredVariableMissing, "Required variable missing").
		WithUserMessage("One or more required variables have no value and no default").
		WithContext("variables", strings.Join(names, ",")).
		WithSeverity(SeverityError)
}

// NewValidationFailedError reports a value rejected by coercion or a validator.
// The field path identifies the variable (and nested key, if any).
func NewValidationFailedError(fieldPath, message string) *errors.Error {
	return errors.New(ErrCodeValidationFailed, "Validation failed").
		WithUserMessage(message).
		WithContext("field", fieldPath).
		WithSeverity(SeverityError)
}

func NewCoercionFailedError(raw string, target ValueType, cause error) *errors.Error {
	var err *errors.Error
	if cause != nil {
		err = errors.Wrap(cause, ErrCodeCoercionFailed, "Value coercion failed")
	} else {
		err = errors.New(ErrCodeCoercionFailed, "Value coercion failed")
	}
	return err.
		WithUserMessage("Raw value cannot be converted to the declared type").
		WithContext("raw", raw).
		WithContext("target_type", target.String()).
		WithSeverity(SeverityError)
}

// Dependency error constructors

// NewDependencyLoadFailedError reports a source that could not be loaded.
// Non-required sources produce a warning, required ones a fatal error.
func NewDependencyLoadFailedError(sourceID string, required bool, cause error) *errors.Error {
	severity := SeverityWarning
	if required {
		severity = SeverityError
	}
	var err *errors.Error
	if cause != nil {
		err = errors.Wrap(cause, ErrCodeDependencyLoadFailed, "Dependency load failed")
	} else {
		err = errors.New(ErrCodeDependencyLoadFailed, "Dependency load failed")
	}
	return err.
		WithUserMessage("Variable declarations for a dependency could not be loaded").
		WithContext("source", sourceID).
		WithContext("required", strconv.FormatBool(required)).
		WithSeverity(severity).
		AsRetryable()
}

func NewDependencyConflictError(conflict Conflict) *errors.Error {
	return errors.New(ErrCodeDependencyConflict, "Dependency variable conflict").
		WithUserMessage(conflict.Suggestion).
		WithContext("variable", conflict.Variable).
		WithContext("sources", strings.Join(conflict.Sources, ",")).
		WithSeverity(conflict.Severity)
}

func NewVersionConstraintUnsatisfiedError(sourceID, version, constraint string, fatal bool) *errors.Error {
	severity := SeverityWarning
	if fatal {
		severity = SeverityError
	}
	return errors.New(ErrCodeVersionConstraintUnsatisfied, "Version constraint unsatisfied").
		WithUserMessage("Resolved dependency version does not satisfy the configured constraint").
		WithContext("source", sourceID).
		WithContext("version", version).
		WithContext("constraint", constraint).
		WithSeverity(severity)
}

func NewDeclarationNotFoundError(sourceID string) *errors.Error {
	return errors.Wrap(ErrDeclarationNotFound, ErrCodeDeclarationNotFound, "Declaration not found").
		WithUserMessage("No variable declarations exist for this source").
		WithContext("source", sourceID).
		WithSeverity(SeverityWarning)
}

func NewDependencyCycleWarning(sources []string) *errors.Error {
	return errors.New(ErrCodeDependencyCycle, "Dependency cycle between sources").
		WithUserMessage("Sources depend on each other; priority order was used for the cycle").
		WithContext("sources", strings.Join(sources, ",")).
		WithSeverity(SeverityWarning)
}

// Plugin error constructors

// NewPluginHookError tags a hook failure with the plugin name and phase.
func NewPluginHookError(plugin string, phase Phase, cause error) *errors.Error {
	var err *errors.Error
	if cause != nil {
		err = errors.Wrap(cause, ErrCodePluginHookError, "Plugin hook failed")
	} else {
		err = errors.New(ErrCodePluginHookError, "Plugin hook failed")
	}
	return err.
		WithUserMessage(fmt.Sprintf("Plugin %s failed during %s", plugin, phase)).
		WithContext("plugin", plugin).
		WithContext("phase", phase.String()).
		WithSeverity(SeverityError)
}

func NewCyclicPluginDependencyError(cycle []string) *errors.Error {
	return errors.New(ErrCodeCyclicPluginDependency, "Cyclic plugin dependency").
		WithUserMessage(fmt.Sprintf("Plugins declare each other as predecessors: %s", strings.Join(cycle, " -> "))).
		WithContext("cycle", strings.Join(cycle, ",")).
		WithSeverity(SeverityError)
}

func NewDuplicatePluginNameError(name string) *errors.Error {
	return errors.New(ErrCodeDuplicatePluginName, "Duplicate plugin name").
		WithUserMessage("A plugin with this name is already registered").
		WithContext("plugin", name).
		WithSeverity(SeverityError)
}

func NewMissingPluginDependencyError(plugin, dependency string) *errors.Error {
	return errors.New(ErrCodeMissingPluginDependency, "Missing plugin dependency").
		WithUserMessage(fmt.Sprintf("Plugin %s requires %s which is not registered", plugin, dependency)).
		WithContext("plugin", plugin).
		WithContext("dependency", dependency).
		WithSeverity(SeverityError)
}

func NewInvalidPluginNameError(name string) *errors.Error {
	return errors.New(ErrCodeInvalidPluginName, "Invalid plugin name").
		WithUserMessage("Plugin name is required and cannot be empty").
		WithContext("provided_name", name).
		WithSeverity(SeverityError)
}

// NewPluginWarning records a non-fatal issue raised by a hook.
func NewPluginWarning(plugin string, phase Phase, message string) *errors.Error {
	return errors.New(ErrCodePluginWarning, "Plugin warning").
		WithUserMessage(message).
		WithContext("plugin", plugin).
		WithContext("phase", phase.String()).
		WithSeverity(SeverityWarning)
}

func NewArtifactWriteError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeArtifactWriteFailed, "Artifact write failed").
		WithUserMessage("An emitted artifact could not be written").
		WithContext("path", path).
		WithSeverity(SeverityError).
		AsRetryable()
}

// Hot reload error constructors

func NewReloadFailedError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeReloadFailed, "Reload failed").
		WithUserMessage("Configuration reload failed").
		WithContext("path", path).
		WithSeverity(SeverityError)
}

func NewSnapshotNotFoundError(id string) *errors.Error {
	return errors.New(ErrCodeSnapshotNotFound, "Snapshot not found").
		WithUserMessage("No snapshot with this id exists in history").
		WithContext("snapshot_id", id).
		WithSeverity(SeverityError)
}

func NewReloadInProgressError() *errors.Error {
	return errors.New(ErrCodeReloadInProgress, "Reload in progress").
		WithUserMessage("Another reload cycle is running").
		WithSeverity(SeverityWarning).
		AsRetryable()
}

func NewReloadNotAvailableError(reason string) *errors.Error {
	return errors.New(ErrCodeReloadNotAvailable, "Reload manager not available").
		WithUserMessage(reason).
		WithSeverity(SeverityError)
}

// Executor error constructors

func NewTaskFailedError(index int, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeTaskFailed, "Task failed").
		WithContext("task", strconv.Itoa(index)).
		WithSeverity(SeverityError)
}

// Configuration error constructors

func NewConfigNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeConfigNotFound, "Configuration file not found").
		WithUserMessage("The configuration file does not exist").
		WithContext("path", path).
		WithSeverity(SeverityError)
}

func NewConfigParseError(path, format string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParseError, "Configuration parse error").
		WithUserMessage("The configuration file could not be parsed").
		WithContext("path", path).
		WithContext("format", format).
		WithSeverity(SeverityError)
}

func NewConfigValidationError(field, message string) *errors.Error {
	return errors.New(ErrCodeConfigValidationError, "Configuration validation error").
		WithUserMessage(message).
		WithContext("field", field).
		WithSeverity(SeverityError)
}

func NewConfigWatcherError(message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeConfigWatcherError, message).
			WithSeverity(SeverityError)
	}
	return errors.New(ErrCodeConfigWatcherError, message).
		WithSeverity(SeverityError)
}

func NewConfigPathError(path, message string) *errors.Error {
	return errors.New(ErrCodeConfigPathError, "Invalid configuration path").
		WithUserMessage(message).
		WithContext("path", path).
		WithSeverity(SeverityError)
}

// HasErrorCode reports whether err, or any error it wraps, is a structured
// error carrying the given code.
func HasErrorCode(err error, code errors.ErrorCode) bool {
	var structured *errors.Error
	if !stderrors.As(err, &structured) {
		return false
	}
	return structured.ErrorCode() == code
}

// IsWarning reports whether err is a structured error tagged with warning severity.
func IsWarning(err error) bool {
	var structured *errors.Error
	if !stderrors.As(err, &structured) {
		return false
	}
	return structured.Severity == SeverityWarning
}
