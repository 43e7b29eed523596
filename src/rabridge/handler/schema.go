package handler

var filePositionSchema = []byte(`{
  "type": "object",
  "properties": {
    "file_path": {
      "type": "string",
      "description": "Absolute path to the Rust source file"
    },
    "line": {
      "type": "integer",
      "description": "Zero-based line number"
    },
    "character": {
      "type": "integer",
      "description": "Zero-based character offset within the line"
    }
  },
  "required": ["file_path", "line", "character"]
}`)

var fileOnlySchema = []byte(`{
  "type": "object",
  "properties": {
    "file_path": {
      "type": "string",
      "description": "Absolute path to the Rust source file"
    }
  },
  "required": ["file_path"]
}`)

var rangeSchema = []byte(`{
  "type": "object",
  "properties": {
    "file_path": {
      "type": "string",
      "description": "Absolute path to the Rust source file"
    },
    "line": {
      "type": "integer",
      "description": "Zero-based start line"
    },
    "character": {
      "type": "integer",
      "description": "Zero-based start character"
    },
    "end_line": {
      "type": "integer",
      "description": "Zero-based end line"
    },
    "end_character": {
      "type": "integer",
      "description": "Zero-based end character"
    }
  },
  "required": ["file_path", "line", "character", "end_line", "end_character"]
}`)

var workspaceSchema = []byte(`{
  "type": "object",
  "properties": {
    "workspace_path": {
      "type": "string",
      "description": "Absolute path to the workspace root directory"
    }
  },
  "required": ["workspace_path"]
}`)

var emptySchema = []byte(`{
  "type": "object",
  "properties": {}
}`)

var goalIndexSchema = []byte(`{
  "type": "object",
  "properties": {
    "goal_index": {
      "description": "A goal index returned by rust_analyzer_failed_obligations, or an array of them",
      "oneOf": [
        {"type": "string"},
        {"type": "array", "items": {"type": "string"}}
      ]
    }
  },
  "required": ["goal_index"]
}`)
