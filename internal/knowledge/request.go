package knowledge

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"restaurant-voice/internal/telephony"
)

// toolCategories maps vendor function tool names to content categories.
var toolCategories = map[string]string{
	"get_menu_info":      "menu",
	"get_modifiers_info": "modifiers",
	"get_hours_info":     "hours",
	"get_zones_info":     "zones",
}

// CategoryForTool returns the content category for a tool name, or "" to
// search every category.
func CategoryForTool(name string) string {
	return toolCategories[name]
}

// ToolCallRequest is the body the vendor posts when the assistant invokes a
// knowledge tool. Several historical payload shapes are accepted.
type ToolCallRequest struct {
	Query    string           `json:"query"`
	Message  *toolMessage     `json:"message"`
	Messages []map[string]any `json:"messages"`
	Metadata map[string]any   `json:"metadata"`
}

type toolMessage struct {
	FunctionCall *struct {
		Parameters *struct {
			Query string `json:"query"`
		} `json:"parameters"`
	} `json:"functionCall"`
	ToolCalls   []toolCall           `json:"toolCalls"`
	PhoneNumber telephony.PhoneField `json:"phoneNumber"`
	Call        *struct {
		PhoneNumber telephony.PhoneField `json:"phoneNumber"`
	} `json:"call"`
}

type toolCall struct {
	ID       string `json:"id"`
	Function *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// ParseToolCallRequest decodes body. Extraction never fails on odd shapes;
// only invalid JSON is an error.
func ParseToolCallRequest(body []byte) (ToolCallRequest, error) {
	var req ToolCallRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ToolCallRequest{}, fmt.Errorf("decode tool call request: %w", err)
	}
	return req, nil
}

// ExtractQuery looks at the top-level query, the legacy functionCall
// parameters, tool call arguments, and finally the last message content.
func (r ToolCallRequest) ExtractQuery() string {
	if r.Query != "" {
		return r.Query
	}
	if m := r.Message; m != nil {
		if m.FunctionCall != nil && m.FunctionCall.Parameters != nil {
			return m.FunctionCall.Parameters.Query
		}
		for _, tc := range m.ToolCalls {
			if tc.Function == nil || len(tc.Function.Arguments) == 0 || string(tc.Function.Arguments) == "null" {
				continue
			}
			if q, ok := queryFromArguments(tc.Function.Arguments); ok {
				return q
			}
		}
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if content, ok := r.Messages[i]["content"]; ok {
			if s, ok := content.(string); ok {
				return s
			}
			return ""
		}
	}
	return ""
}

// queryFromArguments accepts an object or a JSON string holding an object.
func queryFromArguments(raw json.RawMessage) (string, bool) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &args); err == nil {
		return args.Query, true
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return "", false
	}
	if err := json.Unmarshal([]byte(encoded), &args); err != nil {
		return "", false
	}
	return args.Query, true
}

// ToolCallID returns the first non-empty tool call id.
func (r ToolCallRequest) ToolCallID() string {
	if r.Message == nil {
		return ""
	}
	for _, tc := range r.Message.ToolCalls {
		if tc.ID != "" {
			return tc.ID
		}
	}
	return ""
}

// ToolName returns the first non-empty function name.
func (r ToolCallRequest) ToolName() string {
	if r.Message == nil {
		return ""
	}
	for _, tc := range r.Message.ToolCalls {
		if tc.Function != nil && tc.Function.Name != "" {
			return tc.Function.Name
		}
	}
	return ""
}

// MetadataTenant returns metadata.restaurant_id when it is a string.
func (r ToolCallRequest) MetadataTenant() string {
	if v, ok := r.Metadata["restaurant_id"].(string); ok {
		return v
	}
	return ""
}

// PhoneNumber returns message.phoneNumber, then message.call.phoneNumber.
func (r ToolCallRequest) PhoneNumber() string {
	if r.Message == nil {
		return ""
	}
	if p := strings.TrimSpace(string(r.Message.PhoneNumber)); p != "" {
		return p
	}
	if r.Message.Call != nil {
		return strings.TrimSpace(string(r.Message.Call.PhoneNumber))
	}
	return ""
}

// SearchRequest is one validated knowledge lookup.
type SearchRequest struct {
	Query      string `json:"query" validate:"required"`
	ToolCallID string `json:"toolCallId" validate:"required"`
	TenantID   string `json:"restaurant_id" validate:"required"`
	Category   string `json:"category" validate:"omitempty,oneof=menu modifiers hours zones"`
	Limit      int    `json:"limit" validate:"gte=0,lte=20"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate reports every failing field by its JSON name.
func (s SearchRequest) Validate() error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", e.Field(), describe(e)))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be >= " + e.Param()
	case "lte":
		return "must be <= " + e.Param()
	default:
		return "failed " + e.Tag()
	}
}
