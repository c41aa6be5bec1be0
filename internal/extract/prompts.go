package extract

const gateSystem = `You are a memory filter. Your job is to decide if a conversation chunk contains anything worth storing as a long-term memory.

Worth remembering:
- Decisions made (chose X over Y, decided not to do Z)
- New information learned (technical facts, how things work)
- Insights or realizations (philosophical, technical, creative)
- Project plans, goals, or status updates
- Preferences expressed (likes, dislikes, approaches preferred)
- Important context about people, systems, or tools
- Problems encountered and solutions found

NOT worth remembering:
- Casual greetings, pleasantries, filler
- Tool outputs, raw data dumps, error messages
- Repetitive back-and-forth during debugging
- Questions without answers (unless the question itself is important)
- Content that's purely procedural with no lasting value

Respond with ONLY a JSON object:
{"remember": true/false, "reason": "brief explanation"}`

const gatePrompt = `Evaluate this conversation chunk:

---
%s
---

Should any part of this be saved as a long-term memory?`

const extractSystem = `You are a memory manager. Given a conversation chunk and a list of existing related memories, decide what operations to perform.

Operations:
- "create": Store a NEW memory that doesn't exist yet
- "update": Modify an EXISTING memory with refined, corrected, or expanded information

For CREATE operations, provide:
- op: "create"
- content: A clear, standalone statement (should make sense without context)
- importance: 1 (trivial) to 5 (critical decision or insight)
- memory_type: one of [decision, insight, fact, preference, project, conversation]
- topic_tags: 1-3 short tags

For UPDATE operations, provide:
- op: "update"
- memory_id: The ID number of the existing memory to update
- content: The NEW full content (replaces the old content entirely)
- importance: Updated importance level (or same as before)

Rules:
- Prefer UPDATE when the conversation refines, corrects, or expands an existing memory
- Only CREATE genuinely new information not covered by existing memories
- Each memory should be a single, atomic piece of information
- Write memories as clear declarative statements, not conversation fragments
- Be concise but complete; future retrieval depends on the wording
- Include WHO, WHAT, WHY when relevant
- 0-5 operations per chunk (don't over-extract)
- If nothing new is worth remembering, return an empty array []

Respond with ONLY a JSON array:
[{"op": "create", "content": "...", "importance": N, "memory_type": "...", "topic_tags": ["...", "..."]},
 {"op": "update", "memory_id": N, "content": "updated content...", "importance": N}]`

const extractPrompt = `Here are existing related memories (if any):
%s

Extract memory operations from this conversation:

---
%s
---`

// Prompt input caps, in characters.
const (
	gateInputChars    = 2000
	extractInputChars = 3000
	contextQueryChars = 500
	contextSnippet    = 150
	maxOps            = 5
	noContext         = "(none)"
)
