package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/chatfabric/chatfabric/internal/config"
	"github.com/chatfabric/chatfabric/internal/domain"
)

// FallbackSystemPrompt is used when template rendering fails.
const FallbackSystemPrompt = "You are a helpful assistant."

const defaultSystemPrompt = `You are a helpful, attentive assistant in an ongoing conversation with one user.

Be concise and direct. Match the user's tone. When the user refers to something from a past conversation, use the search_conversation_history tool instead of guessing.
{{- if .HasProfile }}

What you know about this user:
{{- if .Profile.PersonalPreferences }}
- How to address them: {{ join .Profile.PersonalPreferences }}
{{- end }}
{{- if .Profile.OutputPreferences }}
- Output preferences: {{ join .Profile.OutputPreferences }}
{{- end }}
{{- if .Profile.AssistantPreferences }}
- Assistant preferences: {{ join .Profile.AssistantPreferences }}
{{- end }}
{{- if .Profile.Interests }}
- Interests: {{ join .Profile.Interests }}
{{- end }}
{{- if .Profile.Dislikes }}
- Dislikes: {{ join .Profile.Dislikes }}
{{- end }}
{{- if .Profile.Knowledge }}
- Familiar topics: {{ join .Profile.Knowledge }}
{{- end }}
{{- if .Profile.FamilyAndFriends }}
- People in their life: {{ join .Profile.FamilyAndFriends }}
{{- end }}
{{- if .Profile.WorkProfile }}
- Work: {{ join .Profile.WorkProfile }}
{{- end }}
{{- if .Profile.Goals }}
- Goals: {{ join .Profile.Goals }}
{{- end }}

Use this profile naturally. Never recite it back or mention that you keep a profile.
{{- end }}`

const defaultTitlePrompt = `You are a helpful assistant that generates concise conversation titles. Analyze the conversation and generate a short, descriptive title (3-6 words) that captures the main topic or theme. Do not use quotes or special characters. Return only the title.`

const defaultSummaryPrompt = `You are a conversation analyzer. Analyze the following conversation and extract key information.

Focus on:
- Creating a concise paragraph summary of the conversation
- Identifying key topics/themes discussed (maximum 5)
- Finding people mentioned by name (excluding the user and assistant)
- Locating specific places or locations mentioned
- Determining the overall user sentiment

Focus on factual information and avoid speculation.
It is OK to return empty field if not applicable.
Return structured data following the specified schema.`

const defaultProfilePrompt = `You are a user memory extractor. Based on the conversation, identify any new information about the user that should be added to their memory profile.

Current user memory profile (if any):
%s

From the conversation, extract ONLY NEW information in these categories:
- output_preferences: User's preferred output styles (length, detail, format)
- personal_preferences: How user prefers to be addressed (name, pronouns, tone)
- assistant_preferences: User's preferences for assistant behavior (name, style)
- knowledge: Topics where user demonstrates understanding (add to existing)
- interests: User's hobbies, interests, subjects they enjoy (add to existing)
- dislikes: Topics, styles, or things user explicitly dislikes (add to existing)
- family_and_friends: Personal connections user mentions (merge with existing)
- work_profile: Professional information user shares (merge with existing)
- goals: User's stated objectives or aspirations (add to existing)

All extracted information should be from user messages in the conversation. Do not include assistant messages or system prompts. Those are provided for context only.

IMPORTANT: You must provide values for ALL fields in the response. If there is no information for a category, provide an empty array [] for lists.`

const defaultSearchToolDescription = `Search through the user's previous conversations using semantic search. This tool finds relevant past conversations based on topics, themes, or context rather than exact keyword matching.

Use this tool when:
- User references something they discussed before
- User asks about previous topics or conversations
- You need context from past interactions
- User wants to continue a previous discussion

The tool returns conversation summaries with themes, people and places mentioned, user sentiment, a relevance score, and a timestamp.`

// Library resolves prompt templates, applying any configured overrides.
type Library struct {
	systemTmpl        *template.Template
	title             string
	summary           string
	profile           string
	searchToolSummary string
}

type systemData struct {
	HasProfile bool
	Profile    *domain.UserProfile
}

// NewLibrary builds the prompt library. cfg may be nil; empty override
// fields keep the defaults.
func NewLibrary(cfg *config.PromptsConfig) (*Library, error) {
	l := &Library{
		title:             defaultTitlePrompt,
		summary:           defaultSummaryPrompt,
		profile:           defaultProfilePrompt,
		searchToolSummary: defaultSearchToolDescription,
	}

	systemText := defaultSystemPrompt
	if cfg != nil {
		if cfg.SystemPrompt != "" {
			systemText = cfg.SystemPrompt
		}
		if cfg.TitlePrompt != "" {
			l.title = cfg.TitlePrompt
		}
		if cfg.SummaryPrompt != "" {
			l.summary = cfg.SummaryPrompt
		}
		if cfg.ProfilePrompt != "" {
			l.profile = cfg.ProfilePrompt
		}
		if cfg.SearchToolSummary != "" {
			l.searchToolSummary = cfg.SearchToolSummary
		}
	}

	tmpl, err := template.New("system").Funcs(template.FuncMap{
		"join": func(items []string) string { return strings.Join(items, "; ") },
	}).Parse(systemText)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt template: %w", err)
	}
	l.systemTmpl = tmpl

	return l, nil
}

// RenderSystem produces the personalized system prompt. A nil profile
// renders the base prompt; rendering errors degrade to the fallback.
func (l *Library) RenderSystem(profile *domain.UserProfile) string {
	var b strings.Builder
	err := l.systemTmpl.Execute(&b, systemData{
		HasProfile: profile != nil,
		Profile:    profile,
	})
	if err != nil {
		return FallbackSystemPrompt
	}
	return b.String()
}

// Title returns the title-generation system prompt.
func (l *Library) Title() string {
	return l.title
}

// Summary returns the conversation-analysis system prompt.
func (l *Library) Summary() string {
	return l.summary
}

// RenderProfile produces the memory-extraction system prompt with the
// existing profile inlined for context.
func (l *Library) RenderProfile(existing *domain.UserProfile) string {
	existingJSON := "{}"
	if existing != nil {
		if data, err := json.MarshalIndent(existing, "", "  "); err == nil {
			existingJSON = string(data)
		}
	}
	return fmt.Sprintf(l.profile, existingJSON)
}

// SearchToolDescription returns the description for the conversation
// search tool definition.
func (l *Library) SearchToolDescription() string {
	return l.searchToolSummary
}
