// Package features holds the client's one-off "tool" transformations:
// fixed system prompt, optional sub-prompt, one user input, no conversation
// history. They funnel through the same request lifecycle as chat.
package features

import (
	_ "embed"
	"encoding/json"

	"github.com/pkg/errors"
)

type Feature string

const (
	Summarization         Feature = "summarization"
	Paraphrasing          Feature = "paraphrasing"
	Grammar               Feature = "grammar"
	ContentGeneration     Feature = "content-generation"
	CodeAssist            Feature = "code-assist"
	Translation           Feature = "translation"
	ImageUnderstanding    Feature = "image-understanding"
	DocumentUnderstanding Feature = "document-understanding"
)

// All lists the features in sidebar order.
func All() []Feature {
	return []Feature{
		Summarization,
		Paraphrasing,
		Grammar,
		ContentGeneration,
		CodeAssist,
		Translation,
		ImageUnderstanding,
		DocumentUnderstanding,
	}
}

// SubFeature is a variant of a feature with its own prompt (a paraphrasing
// tone, a translation target language).
type SubFeature struct {
	Title  string `json:"name"`
	Prompt string `json:"prompt"`
}

type Info struct {
	Title       string
	Description string
	// BasePrompt is the feature's default instruction, used when no
	// sub-feature is selected.
	BasePrompt string
	// SystemPrompt frames the whole invocation.
	SystemPrompt string
	SubFeatures  []SubFeature
}

//go:embed languages.json
var languagesJSON []byte

func loadLanguages() []SubFeature {
	var ret []SubFeature
	if err := json.Unmarshal(languagesJSON, &ret); err != nil {
		// The list is compiled in; a decode failure is a build defect.
		panic(errors.Wrap(err, "decode embedded languages.json"))
	}
	return ret
}

var catalog = map[Feature]Info{
	Summarization: {
		Title:        "Summarization",
		Description:  "Condense long articles into concise key points.",
		BasePrompt:   "Summarize the given text into concise bullet points.",
		SystemPrompt: "Quickly condense long articles, PDFs, or chats into key points.",
		SubFeatures: []SubFeature{
			{Title: "Article Summary", Prompt: "Summarize this article into key points."},
			{Title: "Meeting Notes", Prompt: "Summarize this meeting transcript."},
			{Title: "Research Summary", Prompt: "Condense a research paper into main findings."},
		},
	},
	Paraphrasing: {
		Title:        "Paraphrasing",
		Description:  "Reword content while keeping the meaning intact.",
		BasePrompt:   "Rewrite the following text in a clear and engaging way.",
		SystemPrompt: "Rephrase or rewrite text with better clarity and tone.",
		SubFeatures: []SubFeature{
			{Title: "Formal", Prompt: "Rephrase the text using professional and academic language, ensuring clarity and a polished tone."},
			{Title: "Casual", Prompt: "Reword the text in a friendly, conversational tone that feels natural and approachable."},
			{Title: "Creative", Prompt: "Reimagine the text with expressive language, storytelling flair, and original phrasing while keeping the meaning intact."},
			{Title: "SEO-Friendly", Prompt: "Rewrite the text to sound natural while optimizing for SEO—include relevant keywords and maintain readability."},
		},
	},
	Grammar: {
		Title:        "Grammar Check",
		Description:  "Fix spelling, grammar, and tone for clarity.",
		BasePrompt:   "Correct grammar and improve writing style.",
		SystemPrompt: "Check and refine your grammar, spelling, and style.",
	},
	ContentGeneration: {
		Title:        "Content Generation",
		Description:  "Create blog posts, product descriptions, or social content.",
		BasePrompt:   "Generate creative marketing content.",
		SystemPrompt: "Generate blog posts, captions, or creative writing.",
		SubFeatures: []SubFeature{
			{Title: "Captions", Prompt: "Write short, catchy, and context-appropriate captions that grab attention and reflect the tone or theme of the content."},
			{Title: "Product Description", Prompt: "Craft a persuasive and SEO-friendly product description that highlights key features, benefits, and emotional value."},
			{Title: "Email", Prompt: "Compose a clear, natural, and goal-oriented email suited to the situation — professional, personal, or informational."},
			{Title: "Blog Post", Prompt: "Generate a complete blog post with a strong title, engaging introduction, informative body, and cohesive conclusion written in a consistent tone."},
		},
	},
	CodeAssist: {
		Title:        "Code Assistant",
		Description:  "Explain, debug, or improve your code.",
		BasePrompt:   "Analyze or fix this code snippet.",
		SystemPrompt: "Get help writing, explaining, or fixing your code.",
		SubFeatures: []SubFeature{
			{Title: "Explain Code", Prompt: "Read the provided code and explain what it does, how it works, and any key logic or patterns involved in simple, clear terms."},
			{Title: "Generate Code Snippet", Prompt: "Write a clean, efficient, and well-commented code snippet that solves the described problem or implements the requested feature."},
			{Title: "Debug Code", Prompt: "Analyze the given code for errors or inefficiencies, describe the issue clearly, and suggest a corrected or optimized version."},
		},
	},
	Translation: {
		Title:        "Translation",
		Description:  "Translate text between multiple languages accurately.",
		BasePrompt:   "Translate the following text accurately into the selected language.",
		SystemPrompt: "Translate text accurately, preserving meaning and tone.",
		SubFeatures:  loadLanguages(),
	},
	ImageUnderstanding: {
		Title:        "Image Understanding",
		Description:  "Analyze and describe image content.",
		BasePrompt:   "Describe what's happening in the image.",
		SystemPrompt: "Analyze or describe image content.",
		SubFeatures: []SubFeature{
			{Title: "Image Description", Prompt: "Look at the image and describe it in detail — include objects, people, setting, colors, and the overall mood or context."},
			{Title: "Object Recognition", Prompt: "Identify and list all visible objects in the image, specifying their types, approximate positions, and any relationships between them."},
			{Title: "Text Extraction (OCR)", Prompt: "Extract all readable text from the image accurately, preserving layout where possible and ignoring decorative or irrelevant elements."},
		},
	},
	DocumentUnderstanding: {
		Title:        "Document Understanding",
		Description:  "Extract insights or summaries from complex documents.",
		BasePrompt:   "Extract key insights from the provided document.",
		SystemPrompt: "Understand and extract insights from long documents.",
		SubFeatures: []SubFeature{
			{Title: "Answer / Question", Prompt: "Read the provided document and accurately answer questions about its content, citing relevant parts when needed."},
			{Title: "Summarize", Prompt: "Summarize the document clearly and concisely, capturing the key ideas, tone, and important details while removing redundancy."},
		},
	},
}

// Get returns the feature's catalog entry.
func Get(f Feature) (Info, error) {
	info, ok := catalog[f]
	if !ok {
		return Info{}, errors.Errorf("unknown feature %q", f)
	}
	return info, nil
}

// Parse resolves a feature identifier.
func Parse(s string) (Feature, error) {
	f := Feature(s)
	if _, ok := catalog[f]; !ok {
		return "", errors.Errorf("unknown feature %q", s)
	}
	return f, nil
}

// SubFeatureByTitle looks up a sub-feature of f by its title.
func SubFeatureByTitle(f Feature, title string) (SubFeature, error) {
	info, err := Get(f)
	if err != nil {
		return SubFeature{}, err
	}
	for _, sub := range info.SubFeatures {
		if sub.Title == title {
			return sub, nil
		}
	}
	return SubFeature{}, errors.Errorf("feature %q has no sub-feature %q", f, title)
}
