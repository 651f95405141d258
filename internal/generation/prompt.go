package generation

import (
	"fmt"
	"strings"
)

const analyzePrompt = "Analyze this image of a clothing item. Provide a highly detailed description of its color(s), hue(s), texture, and any patterns. Be very specific, e.g., 'deep cerulean blue with a slight teal undertone' instead of just 'blue'."

const preservationRule = "- **Strict Preservation (Most Important Rule):** You MUST preserve the model's exact pose, facial expression, hair, body shape, and skin tone from the original photo. The background must also remain completely unchanged. The ONLY thing you are allowed to change is the clothing.\n"

func buildStylePrompt(description, feedback string) string {
	sb := &strings.Builder{}
	if feedback == "" {
		sb.WriteString("You are an expert virtual stylist. Your task is to dress a model with a fashion item.\n")
		sb.WriteString("The provided collage contains a person (the model) and a piece of clothing (the fashion item).\n\n")
		sb.WriteString("**Your Goal:** Generate a new, single, photorealistic image of the model wearing the fashion item.\n\n")
		sb.WriteString("**Crucial Rules:**\n")
		sb.WriteString(preservationRule)
		fmt.Fprintf(sb, "- **Exact Clothing Match:** The clothing on the model must be an exact replica of the fashion item from the collage. Use this detailed description for accuracy: \"%s\". Pay close attention to the item's length, fit, color, and pattern.\n", description)
		sb.WriteString("- **Natural Fit:** The clothing must look natural on the model, fitting their body and pose correctly.\n")
		sb.WriteString("- **Final Output:** Your output must be a single, clean image of the newly styled model. Do not include the separate fashion item in your final image.")
		return sb.String()
	}

	sb.WriteString("You are an expert virtual stylist. Your task is to correct a failed attempt at dressing a model.\n")
	sb.WriteString("The provided collage contains three images:\n")
	sb.WriteString("1. The model who needs to be styled (left).\n")
	sb.WriteString("2. The target fashion item they should wear (top right).\n")
	sb.WriteString("3. A previous, incorrect image you generated (bottom right).\n\n")
	sb.WriteString("**Your Goal:** Generate a NEW, single, photorealistic image of the model wearing the fashion item, fixing the previous errors.\n\n")
	fmt.Fprintf(sb, "**Feedback to address:** You MUST incorporate this feedback: \"%s\"\n\n", feedback)
	sb.WriteString("**Crucial Rules:**\n")
	sb.WriteString(preservationRule)
	fmt.Fprintf(sb, "- **Exact Clothing Match:** The clothing on the model must be an exact replica of the target fashion item. Use this detailed description for accuracy: \"%s\". Pay close attention to the item's length, fit, color, and pattern.\n", description)
	sb.WriteString("- **Final Output:** Your output must be a single, clean image of the newly styled model. Do not include elements from the collage.")
	return sb.String()
}

func buildJudgePrompt(description string) string {
	sb := &strings.Builder{}
	sb.WriteString("You are an expert fashion quality control judge.\n")
	sb.WriteString("You will be given the original clothing item, the AI-generated image of a model wearing it, and the original description.\n")
	sb.WriteString("Your task is to determine if the generated image is a high-quality, accurate match.\n\n")
	sb.WriteString("CRITERIA:\n")
	fmt.Fprintf(sb, "1. **Color Accuracy:** Does the item in the generated image perfectly match the original description: \"%s\"? Check hues, saturation, and tones.\n", description)
	sb.WriteString("2. **Design Fidelity:** Are the patterns, cut, and details of the item faithfully reproduced?\n")
	sb.WriteString("3. **Length Accuracy:** Does the length of the clothing in the generated image (e.g., knee-length, floor-length) match the original item?\n")
	sb.WriteString("4. **Integration Quality:** Does the clothing look natural on the model? Are there any weird artifacts?\n\n")
	sb.WriteString("Respond with a JSON object.\n")
	sb.WriteString(`- If it's a perfect or very close match, set "decision" to "accept" and provide brief positive "feedback".` + "\n")
	sb.WriteString(`- If it's not a good match, set "decision" to "refine" and provide specific, actionable "feedback" for the AI to fix the image on the next try (e.g., "The dress color is too bright, it needs to be a deeper mustard yellow.").`)
	return sb.String()
}

const filterPrompt = `You are a strict image comparison expert. You will receive one "Original Image" and a list of "Candidate Images".
Your goal is to identify which candidates show the person in DIFFERENT clothing.

**Critical Instructions:**
1. For each Candidate Image, compare it to the Original Image.
2. Your ONLY criterion is the clothing. Ignore minor changes in lighting, pose, or background.
3. If a candidate's clothing is identical, nearly identical, or the same type and color as the original, it is a MATCH and must be excluded.
4. Only include a candidate's index if the clothing is UNDENIABLY and SIGNIFICANTLY different (e.g., a dress changed to a sweatsuit).

**Output Format:**
Respond ONLY with a JSON object. It must have one key: "changed_indices".
The value must be an array of numbers representing the 0-based indices of the candidates with different clothing.
If NO candidates have different clothing, you MUST return an empty array: []. Do not guess.`

var judgeSchema = &Schema{
	Type: SchemaObject,
	Properties: map[string]*Schema{
		"decision": {Type: SchemaString, Description: `Either "accept" or "refine".`},
		"feedback": {Type: SchemaString, Description: "Your detailed feedback."},
	},
	Required: []string{"decision", "feedback"},
}

var filterSchema = &Schema{
	Type: SchemaObject,
	Properties: map[string]*Schema{
		"changed_indices": {
			Type:        SchemaArray,
			Items:       &Schema{Type: SchemaNumber},
			Description: "An array of 0-based indices for candidate images with changed clothing.",
		},
	},
	Required: []string{"changed_indices"},
}
