package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/synaptic/internal/config"
	"github.com/kalambet/synaptic/internal/stream"
)

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a document to the library",
	Long: `Add a document to the library.

Examples:
  synaptic add --text "Photosynthesis converts light into chemical energy" --title "Photosynthesis"
  synaptic add --file ./chapter3.pdf
  synaptic add --file ./lecture-notes.html --title "Lecture 12"
  cat notes.txt | synaptic add --file - --title "Notes"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		req := map[string]any{
			"source": "cli",
		}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			req["content_type"] = "text/plain"
			req["content"] = text
		case file == "-":
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			req["content_type"] = "text/plain"
			req["content"] = string(data)
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["content_type"] = contentTypeForFile(file)
			req["content_base64"] = base64.StdEncoding.EncodeToString(data)
			if title == "" {
				req["title"] = filepath.Base(file)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/documents", req)
		if err != nil {
			return err
		}

		var result struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			TextLength  int    `json:"text_length"`
			IndexQueued bool   `json:"index_queued"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Added %s (%d chars) as %s", result.Title, result.TextLength, result.ID)
		if result.IndexQueued {
			printStep("Chunk index build queued")
		}
		return nil
	},
}

func contentTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html"
	default:
		return "text/plain"
	}
}

func init() {
	addCmd.Flags().String("text", "", "text content to add")
	addCmd.Flags().String("file", "", "file path to add (PDF, HTML, or plain text; \"-\" reads stdin)")
	addCmd.Flags().String("title", "", "title for the document")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage the document library",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/documents?limit=%d", limit))
		if err != nil {
			return err
		}

		var list struct {
			Documents []struct {
				ID         string `json:"id"`
				Title      string `json:"title"`
				TextLength int    `json:"text_length"`
				Indexed    bool   `json:"indexed"`
			} `json:"documents"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list.Documents) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range list.Documents {
			indexed := ""
			if d.Indexed {
				indexed = "  [indexed]"
			}
			fmt.Printf("%s  %s (%d chars)%s\n",
				colorize(colorCyan, d.ID[:8]),
				d.Title,
				d.TextLength,
				indexed,
			)
		}
		return nil
	},
}

var docsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/documents/"+args[0])
		if err != nil {
			return err
		}

		var doc any
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	},
}

var docsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/documents/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

func init() {
	docsListCmd.Flags().Int("limit", 50, "maximum number of documents to list")
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsShowCmd)
	docsCmd.AddCommand(docsRemoveCmd)
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index <document-id>",
	Short: "Queue a chunk index build for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/documents/"+args[0]+"/index", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Index build queued for %s", args[0])
		return nil
	},
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <document-id>",
	Short: "Generate study content from a document",
	Long: `Generate study content from a document.

Progress is streamed while the job runs. The result is held as a draft;
pass --commit to persist it immediately, or --discard to throw it away
after inspection.

Examples:
  synaptic generate doc-id --kind mind_map --nodes 30
  synaptic generate doc-id --kind summary --commit
  synaptic generate doc-id --kind podcast`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		nodes, _ := cmd.Flags().GetInt("nodes")
		depth, _ := cmd.Flags().GetInt("depth")
		commit, _ := cmd.Flags().GetBool("commit")
		discard, _ := cmd.Flags().GetBool("discard")

		if commit && discard {
			return fmt.Errorf("--commit and --discard are mutually exclusive")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"kind": kind}
		if nodes > 0 {
			req["nodes"] = nodes
		}
		if depth > 0 {
			req["depth"] = depth
		}

		resp, err := client.postStream(cmd.Context(), "/v1/documents/"+args[0]+"/generations", req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		terminal, err := consumeProgress(resp.Body)
		if err != nil {
			return err
		}

		if terminal.Kind == stream.KindError {
			printError("Generation failed: %s", terminal.Reason)
			return fmt.Errorf("generation failed: %s", terminal.Reason)
		}

		var payload struct {
			DraftRef   string `json:"draft_ref"`
			DocumentID string `json:"document_id"`
			Kind       string `json:"kind"`
			RunID      string `json:"run_id"`
		}
		if err := json.Unmarshal(terminal.Payload, &payload); err != nil {
			return fmt.Errorf("parsing completion payload: %w", err)
		}

		printSuccess("Generated %s draft %s", payload.Kind, payload.DraftRef)

		switch {
		case commit:
			commitResp, err := client.post(cmd.Context(), "/v1/drafts/"+payload.DraftRef+"/commit", nil)
			if err != nil {
				return err
			}
			var artifact struct {
				ID string `json:"id"`
			}
			if err := decodeJSON(commitResp, &artifact); err != nil {
				return err
			}
			printSuccess("Committed as artifact %s", artifact.ID)
		case discard:
			discardResp, err := client.delete(cmd.Context(), "/v1/drafts/"+payload.DraftRef)
			if err != nil {
				return err
			}
			discardResp.Body.Close()
			printStep("Draft discarded")
		default:
			printStep("Draft held; commit with: synaptic commit %s", payload.DraftRef)
		}
		return nil
	},
}

// consumeProgress reads a progress stream, echoing progress frames, and
// returns the terminal event.
func consumeProgress(r io.Reader) (stream.Event, error) {
	it := stream.NewIterator(r)
	for {
		ev, err := it.Next()
		if err != nil {
			return stream.Event{}, fmt.Errorf("reading progress stream: %w", err)
		}
		switch ev.Kind {
		case stream.KindProgress:
			printStep("%3d%%  %s", ev.Percent, ev.Message)
		case stream.KindHeartbeat:
			// Keepalive, nothing to show.
		default:
			return ev, nil
		}
	}
}

func init() {
	generateCmd.Flags().String("kind", "summary", "content kind: mind_map, podcast, or summary")
	generateCmd.Flags().Int("nodes", 0, "mind map node budget (default: derived from the document)")
	generateCmd.Flags().Int("depth", 0, "mind map depth limit (default: derived from the document)")
	generateCmd.Flags().Bool("commit", false, "commit the draft immediately")
	generateCmd.Flags().Bool("discard", false, "discard the draft after generation")
}

// --- commit / discard ---

var commitCmd = &cobra.Command{
	Use:   "commit <draft-ref>",
	Short: "Commit a draft as a permanent artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/drafts/"+args[0]+"/commit", nil)
		if err != nil {
			return err
		}

		var artifact struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &artifact); err != nil {
			return err
		}

		printSuccess("Committed as artifact %s", artifact.ID)
		return nil
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <draft-ref>",
	Short: "Discard a draft without trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/drafts/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Draft %s discarded", args[0])
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <document-id> <question>",
	Short: "Ask a question about a document",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/documents/"+args[0]+"/chat", map[string]any{
			"message": question,
		})
		if err != nil {
			return err
		}

		var answer struct {
			Text     string `json:"text"`
			Decision struct {
				Strategy string `json:"strategy"`
				Reason   string `json:"reason"`
			} `json:"decision"`
		}
		if err := decodeJSON(resp, &answer); err != nil {
			return err
		}

		fmt.Println(answer.Text)
		printStep("answered via %s (%s)", answer.Decision.Strategy, answer.Decision.Reason)
		return nil
	},
}

// --- artifacts ---

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Manage committed artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list <document-id>",
	Short: "List a document's artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/v1/documents/" + args[0] + "/artifacts"
		if kind != "" {
			path += "?kind=" + kind
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var list struct {
			Artifacts []struct {
				ID        string `json:"id"`
				Kind      string `json:"kind"`
				CreatedAt string `json:"created_at"`
			} `json:"artifacts"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list.Artifacts) == 0 {
			fmt.Println("No artifacts found.")
			return nil
		}

		for _, a := range list.Artifacts {
			fmt.Printf("%s  %-9s %s\n",
				colorize(colorCyan, a.ID[:8]),
				a.Kind,
				a.CreatedAt,
			)
		}
		return nil
	},
}

var artifactsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single artifact as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/artifacts/"+args[0])
		if err != nil {
			return err
		}

		var artifact any
		if err := decodeJSON(resp, &artifact); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(artifact)
	},
}

var artifactsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/artifacts/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted artifact %s", args[0])
		return nil
	},
}

func init() {
	artifactsListCmd.Flags().String("kind", "", "filter by content kind")
	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsShowCmd)
	artifactsCmd.AddCommand(artifactsRemoveCmd)
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage study sessions",
}

var sessionsStartCmd = &cobra.Command{
	Use:   "start <document-id> <activity-kind>",
	Short: "Start a study session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/sessions", map[string]any{
			"document_id":   args[0],
			"activity_kind": args[1],
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result["session_id"])
		return nil
	},
}

var sessionsCompleteCmd = &cobra.Command{
	Use:   "complete <session-id>",
	Short: "Complete a study session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/sessions/"+args[0]+"/complete", nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Session %s completed", args[0])
		return nil
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded study sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		documentID, _ := cmd.Flags().GetString("doc")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/sessions?limit=%d", limit)
		if documentID != "" {
			path += "&document_id=" + documentID
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var list struct {
			Sessions []struct {
				ID              string `json:"id"`
				DocumentID      string `json:"document_id"`
				ActivityKind    string `json:"activity_kind"`
				StartedAt       string `json:"started_at"`
				DurationSeconds int    `json:"duration_seconds"`
			} `json:"sessions"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		if len(list.Sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}

		for _, s := range list.Sessions {
			fmt.Printf("%s  %s  %-9s %4ds  %s\n",
				colorize(colorCyan, s.ID[:8]),
				s.StartedAt,
				s.ActivityKind,
				s.DurationSeconds,
				s.DocumentID[:8],
			)
		}
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().String("doc", "", "filter by document id")
	sessionsListCmd.Flags().Int("limit", 50, "maximum number of sessions to list")
	sessionsCmd.AddCommand(sessionsStartCmd)
	sessionsCmd.AddCommand(sessionsCompleteCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load("")
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		if err := setConfigKey(&cfg, key, value); err != nil {
			return err
		}
		if err := config.Save(cfg, config.DefaultPath()); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func setConfigKey(cfg *config.Config, key, value string) error {
	intVal := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("value for %s must be an integer: %w", key, err)
		}
		*dst = n
		return nil
	}
	durVal := func(dst *time.Duration) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("value for %s must be a duration: %w", key, err)
		}
		*dst = d
		return nil
	}

	switch key {
	case "server.port":
		return intVal(&cfg.Server.Port)
	case "server.auth_token":
		cfg.Server.AuthToken = value
	case "storage.data_dir":
		cfg.Storage.DataDir = value
	case "engine.base_url":
		cfg.Engine.BaseURL = value
	case "engine.embed_model":
		cfg.Engine.EmbedModel = value
	case "llm.base_url":
		cfg.LLM.BaseURL = value
	case "llm.api_key":
		cfg.LLM.APIKey = value
	case "llm.model":
		cfg.LLM.Model = value
	case "llm.voice":
		cfg.LLM.Voice = value
	case "retrieval.direct_threshold":
		return intVal(&cfg.Retrieval.DirectThreshold)
	case "retrieval.top_k":
		return intVal(&cfg.Retrieval.TopK)
	case "generation.heartbeat_interval":
		return durVal(&cfg.Generation.HeartbeatInterval)
	case "generation.job_timeout":
		return durVal(&cfg.Generation.JobTimeout)
	case "generation.draft_ttl":
		return durVal(&cfg.Generation.DraftTTL)
	case "session.min_duration":
		return durVal(&cfg.Session.MinDuration)
	case "session.abandon_after":
		return durVal(&cfg.Session.AbandonAfter)
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultPath()
		if _, err := os.Stat(path); err == nil {
			printWarning("Config file already exists at %s", path)
			return nil
		}

		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		if err := config.Save(cfg, path); err != nil {
			return err
		}

		printSuccess("Wrote %s", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
}
