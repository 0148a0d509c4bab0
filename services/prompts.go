package services

import (
	"fmt"
	"strings"

	"github/closedbook/rag/models"
)

// Task names accepted by the query endpoint. Both are synthesis tasks that
// need wider retrieval coverage than a point lookup, so they run with the
// task top-k rather than the chat top-k.
const (
	TaskContradiction = "contradiction"
	TaskSummary       = "summary"
)

const answerPromptTemplate = `You are a careful assistant answering questions about the user's documents. Answer using ONLY the context below. If the context does not contain the information needed, say that the selected documents do not cover it. Do not invent information.

Context:
%s

Question: %s

Answer:`

const contradictionPrompt = "Compare the selected documents and point out, concretely, any contradictions between them - conflicting figures, dates, or procedures. If there are none, answer that the documents are consistent with each other."

const summaryPrompt = "Summarize the overall content of the selected documents concisely, focusing on the most important points."

// taskBanners are the user-visible transcript lines recorded when a canned
// task is launched, standing in for a typed question.
var taskBanners = map[string]string{
	TaskContradiction: "Running a contradiction check across the selected documents",
	TaskSummary:       "Summarizing the selected documents",
}

// TaskPrompt resolves a canned task name to its prompt and transcript line.
func TaskPrompt(task string) (prompt, banner string, err error) {
	switch task {
	case TaskContradiction:
		return contradictionPrompt, taskBanners[task], nil
	case TaskSummary:
		return summaryPrompt, taskBanners[task], nil
	default:
		return "", "", fmt.Errorf("%w: unknown task %q", models.ErrInvalidInput, task)
	}
}

// buildAnswerPrompt assembles the grounding context from retrieved chunks
// and the question into the final prompt.
func buildAnswerPrompt(question string, retrieved []models.RetrievedChunk) string {
	var sb strings.Builder
	for i, rc := range retrieved {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString(fmt.Sprintf("[%s]\n", rc.Chunk.DocumentID))
		sb.WriteString(rc.Chunk.Text)
	}
	context := sb.String()
	if context == "" {
		context = "(no relevant passages found in the selected documents)"
	}
	return fmt.Sprintf(answerPromptTemplate, context, question)
}
