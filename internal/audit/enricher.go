package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/audit-trail/audit-trail/internal/db/models"
)

// Canonical event types. Event types are free strings; only these drive rules.
const (
	TypeAuthentication   = "authentication"
	TypeAuthorization    = "authorization"
	TypeDataAccess       = "data_access"
	TypeDataModification = "data_modification"
	TypeDataExport       = "data_export"
	TypeDataDeletion     = "data_deletion"
	TypeSystem           = "system"
	TypeConfiguration    = "configuration"
	TypeCompliance       = "compliance"
)

// Canonical event categories.
const (
	CategorySecurity   = "security"
	CategoryCompliance = "compliance"
	CategoryData       = "data"
	CategorySystem     = "system"
	CategoryUser       = "user"
)

// Compliance framework tags.
const (
	FrameworkGDPR     = "gdpr"
	FrameworkSOX      = "sox"
	FrameworkISO27001 = "iso27001"
)

var restrictedResources = map[string]bool{
	"credentials":     true,
	"api_keys":        true,
	"encryption_keys": true,
	"audit_events":    true,
	"legal_holds":     true,
	"payment_methods": true,
}

var confidentialResources = map[string]bool{
	"users":          true,
	"contacts":       true,
	"reports":        true,
	"certifications": true,
	"experiences":    true,
	"sessions":       true,
}

// personalDataResources are the confidential resources that hold personal data.
var personalDataResources = map[string]bool{
	"users":    true,
	"contacts": true,
}

// Event is a raw log request, before validation and enrichment.
type Event struct {
	EventID          string          `json:"event_id,omitempty"`
	EventType        string          `json:"event_type"`
	EventCategory    string          `json:"event_category"`
	EventSeverity    models.Severity `json:"event_severity"`
	EventName        string          `json:"event_name"`
	EventDescription string          `json:"event_description,omitempty"`

	ActorType     string   `json:"actor_type,omitempty"`
	ActorID       string   `json:"actor_id,omitempty"`
	ActorUsername string   `json:"actor_username,omitempty"`
	ActorRoles    []string `json:"actor_roles,omitempty"`

	TargetType  string `json:"target_type,omitempty"`
	TargetID    string `json:"target_id,omitempty"`
	TargetName  string `json:"target_name,omitempty"`
	TargetTable string `json:"target_table,omitempty"`

	Action       string `json:"action"`
	ActionResult string `json:"action_result"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	BeforeValue   map[string]interface{} `json:"before_value,omitempty"`
	AfterValue    map[string]interface{} `json:"after_value,omitempty"`
	ChangedFields []string               `json:"changed_fields,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`

	RequestID  string `json:"request_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	HTTPMethod string `json:"http_method,omitempty"`
	HTTPPath   string `json:"http_path,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`
	LatencyMS  int64  `json:"latency_ms,omitempty"`

	ComplianceFrameworks []string `json:"compliance_frameworks,omitempty"`
}

// Validate checks the required fields of e. Severity must also be a known value.
func Validate(e *Event) error {
	var missing []string
	if strings.TrimSpace(e.EventType) == "" {
		missing = append(missing, "event_type")
	}
	if strings.TrimSpace(e.EventCategory) == "" {
		missing = append(missing, "event_category")
	}
	if e.EventSeverity == "" {
		missing = append(missing, "event_severity")
	} else if !e.EventSeverity.Valid() {
		missing = append(missing, "event_severity (unknown value "+string(e.EventSeverity)+")")
	}
	if strings.TrimSpace(e.EventName) == "" {
		missing = append(missing, "event_name")
	}
	if strings.TrimSpace(e.Action) == "" {
		missing = append(missing, "action")
	}
	if strings.TrimSpace(e.ActionResult) == "" {
		missing = append(missing, "action_result")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Enricher turns validated requests into AuditEvents with identity, sensitivity and
// compliance tags populated. It has no side effects beyond logging degraded payloads.
type Enricher struct {
	now func() time.Time
}

// NewEnricher creates an Enricher using the wall clock.
func NewEnricher() *Enricher {
	return &Enricher{now: time.Now}
}

// Enrich validates e and returns the enriched event. Hash fields and risk score are
// left for the scorer and chainer.
func (en *Enricher) Enrich(e *Event) (*models.AuditEvent, error) {
	if err := Validate(e); err != nil {
		return nil, err
	}

	// Postgres keeps microseconds; truncating keeps the stored timestamp hashable.
	ts := en.now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()

	ev := &models.AuditEvent{
		ID:               id,
		EventID:          e.EventID,
		Timestamp:        ts,
		EventType:        e.EventType,
		EventCategory:    e.EventCategory,
		EventSeverity:    e.EventSeverity,
		EventName:        e.EventName,
		EventDescription: e.EventDescription,
		ActorType:        e.ActorType,
		ActorID:          e.ActorID,
		ActorUsername:    e.ActorUsername,
		ActorRoles:       cleanAll(e.ActorRoles),
		TargetType:       e.TargetType,
		TargetID:         e.TargetID,
		TargetName:       e.TargetName,
		TargetTable:      e.TargetTable,
		Action:           e.Action,
		ActionResult:     strings.ToLower(e.ActionResult),
		ErrorCode:        e.ErrorCode,
		ErrorMessage:     e.ErrorMessage,
		ChangedFields:    cleanAll(e.ChangedFields),
		RequestID:        e.RequestID,
		SessionID:        e.SessionID,
		IPAddress:        e.IPAddress,
		UserAgent:        e.UserAgent,
		HTTPMethod:       e.HTTPMethod,
		HTTPPath:         e.HTTPPath,
		HTTPStatus:       e.HTTPStatus,
		LatencyMS:        e.LatencyMS,
	}
	if ev.EventID == "" {
		ev.EventID = fmt.Sprintf("evt_%d_%s", ts.UnixMilli(), id[:8])
	}
	if ev.ActorType == "" {
		if ev.ActorID == "" {
			ev.ActorType = models.ActorAnonymous
		} else {
			ev.ActorType = models.ActorUser
		}
	}

	if clipped := boundFields(ev); len(clipped) > 0 {
		slog.Warn("audit event fields truncated to column width", "event_id", ev.ID, "fields", clipped)
	}

	ev.BeforeValue = encodablePayload(ev.ID, "before_value", e.BeforeValue)
	ev.AfterValue = encodablePayload(ev.ID, "after_value", e.AfterValue)
	ev.Metadata = encodablePayload(ev.ID, "metadata", e.Metadata)

	ev.DataSensitivity = ClassifySensitivity(ev)
	ev.ComplianceFrameworks = ComplianceTags(ev, e.ComplianceFrameworks)
	return ev, nil
}

// encodablePayload returns m unchanged when it encodes as JSON. Otherwise the field is
// replaced with a marker carrying the encoding error so the event is still recorded.
func encodablePayload(eventID, field string, m map[string]interface{}) models.JSONMap {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err == nil && bytes.Contains(data, []byte(`\u0000`)) {
		err = errNULInPayload
	}
	if err != nil {
		serr := &SerializationError{Field: field, Err: err}
		slog.Warn("audit payload degraded", "event_id", eventID, "field", field, "error", serr)
		return models.JSONMap{"serialization_error": serr.Error()}
	}
	return models.JSONMap(m)
}

// Widths of the bounded audit_events columns.
const (
	shortColumn = 16
	keyColumn   = 64
	nameColumn  = 128
	textColumn  = 255
)

// boundFields clips the string columns of ev to their widths and removes input the
// database refuses in text columns (invalid UTF-8, NUL). It runs before hashing, so
// the stored row always matches its hash. The names of clipped fields are returned.
func boundFields(ev *models.AuditEvent) []string {
	var clipped []string
	bound := func(name string, v *string, width int) {
		s := cleanText(*v)
		if width > 0 && utf8.RuneCountInString(s) > width {
			s = clipRunes(s, width)
			clipped = append(clipped, name)
		}
		*v = s
	}

	bound("event_id", &ev.EventID, keyColumn)
	bound("event_type", &ev.EventType, keyColumn)
	bound("event_category", &ev.EventCategory, keyColumn)
	bound("event_name", &ev.EventName, textColumn)
	bound("event_description", &ev.EventDescription, 0)
	bound("actor_type", &ev.ActorType, shortColumn)
	bound("actor_id", &ev.ActorID, textColumn)
	bound("actor_username", &ev.ActorUsername, textColumn)
	bound("target_type", &ev.TargetType, keyColumn)
	bound("target_id", &ev.TargetID, textColumn)
	bound("target_name", &ev.TargetName, textColumn)
	bound("target_table", &ev.TargetTable, nameColumn)
	bound("action", &ev.Action, nameColumn)
	bound("action_result", &ev.ActionResult, shortColumn)
	bound("error_code", &ev.ErrorCode, keyColumn)
	bound("error_message", &ev.ErrorMessage, 0)
	bound("request_id", &ev.RequestID, keyColumn)
	bound("session_id", &ev.SessionID, nameColumn)
	bound("ip_address", &ev.IPAddress, keyColumn)
	bound("user_agent", &ev.UserAgent, 0)
	bound("http_method", &ev.HTTPMethod, shortColumn)
	bound("http_path", &ev.HTTPPath, 0)
	return clipped
}

func cleanText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// cleanAll returns a cleaned copy of values; the caller's slice is not modified.
func cleanAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = cleanText(v)
	}
	return out
}

// clipRunes returns the first n runes of s.
func clipRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func resourceOf(e *models.AuditEvent) []string {
	return []string{strings.ToLower(e.TargetType), strings.ToLower(e.TargetTable)}
}

// ClassifySensitivity returns restricted, confidential or internal for the event's target.
func ClassifySensitivity(e *models.AuditEvent) string {
	res := resourceOf(e)
	for _, r := range res {
		if restrictedResources[r] {
			return models.SensitivityRestricted
		}
	}
	for _, r := range res {
		if confidentialResources[r] {
			return models.SensitivityConfidential
		}
	}
	if e.EventType == TypeAuthentication || e.EventType == TypeAuthorization {
		return models.SensitivityConfidential
	}
	return models.SensitivityInternal
}

// ComplianceTags derives the framework tags of e and merges them with the caller's
// tags. The result is de-duplicated and sorted.
func ComplianceTags(e *models.AuditEvent, supplied []string) []string {
	set := map[string]bool{}
	for _, f := range supplied {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			set[f] = true
		}
	}

	switch e.EventType {
	case TypeDataAccess, TypeDataModification, TypeDataExport, TypeDataDeletion:
		set[FrameworkGDPR] = true
	case TypeAuthentication, TypeAuthorization, TypeSystem, TypeConfiguration:
		set[FrameworkSOX] = true
	}
	for _, r := range resourceOf(e) {
		if personalDataResources[r] {
			set[FrameworkGDPR] = true
		}
	}
	if e.EventCategory == CategorySecurity || e.EventSeverity.AtLeast(models.SeverityError) {
		set[FrameworkISO27001] = true
	}

	tags := make([]string, 0, len(set))
	for f := range set {
		tags = append(tags, f)
	}
	sort.Strings(tags)
	return tags
}
