// Package main provides the playerctl entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"github.com/r3labs/sse/v2"
)

var (
	app     = kingpin.New("playerctl", "replay playback control client")
	server  = app.Flag("server", "Daemon address").Default("http://localhost:8457").String()
	jsonOut = app.Flag("json", "Print raw JSON responses").Bool()

	statusCmd = app.Command("status", "Show playback status")

	queueCmd = app.Command("queue", "List the queue")

	addCmd      = app.Command("add", "Append a track to the queue")
	addID       = addCmd.Arg("id", "Track ID").Required().String()
	addURL      = addCmd.Arg("url", "Audio stream URL").Required().String()
	addTitle    = addCmd.Flag("title", "Episode title").String()
	addShow     = addCmd.Flag("show", "Show name").String()
	addDuration = addCmd.Flag("duration", "Known duration (e.g. 1h2m)").Duration()

	playNowCmd      = app.Command("play-now", "Play a track immediately")
	playNowID       = playNowCmd.Arg("id", "Track ID").Required().String()
	playNowURL      = playNowCmd.Arg("url", "Audio stream URL").Required().String()
	playNowTitle    = playNowCmd.Flag("title", "Episode title").String()
	playNowShow     = playNowCmd.Flag("show", "Show name").String()
	playNowDuration = playNowCmd.Flag("duration", "Known duration (e.g. 1h2m)").Duration()
	playNowStart    = playNowCmd.Flag("start", "Start position (e.g. 30m); omit to resume").Default("-1s").Duration()

	removeCmd = app.Command("remove", "Remove a track from the queue")
	removeID  = removeCmd.Arg("id", "Track ID").Required().String()

	clearCmd = app.Command("clear", "Clear the queue")

	playCmd    = app.Command("play", "Start or resume playback")
	pauseCmd   = app.Command("pause", "Pause playback")
	nextCmd    = app.Command("next", "Skip to the next queued track")
	forwardCmd = app.Command("forward", "Skip forward")
	backCmd    = app.Command("back", "Skip backward")

	seekCmd      = app.Command("seek", "Seek to an absolute position")
	seekPosition = seekCmd.Arg("position", "Position (e.g. 90s, 15m30s)").Required().Duration()

	rateCmd   = app.Command("rate", "Set the playback rate")
	rateValue = rateCmd.Arg("rate", "Rate (e.g. 1.5)").Required().Float64()

	volumeCmd   = app.Command("volume", "Set the playback volume")
	volumeValue = volumeCmd.Arg("volume", "Volume 0..1").Required().Float64()

	chaptersCmd = app.Command("chapters", "List the current track's chapters")

	chapterCmd   = app.Command("chapter", "Jump to a chapter")
	chapterIndex = chapterCmd.Arg("index", "Chapter index").Required().Int()

	progressCmd = app.Command("progress", "Show saved progress for a track")
	progressID  = progressCmd.Arg("id", "Track ID").Required().String()

	forgetCmd = app.Command("forget", "Clear saved progress for a track")
	forgetID  = forgetCmd.Arg("id", "Track ID").Required().String()

	searchCmd   = app.Command("search", "Search the podcast directory")
	searchTerm  = searchCmd.Arg("term", "Search term").String()
	searchShow  = searchCmd.Flag("show", "List episodes of a show ID instead").Int64()
	searchLimit = searchCmd.Flag("limit", "Result limit").Default("10").Int()

	watchCmd = app.Command("watch", "Stream playback events")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := newAPIClient(*server)
	ctx := context.Background()

	switch command {
	case statusCmd.FullCommand():
		showStatus(ctx, client)
	case queueCmd.FullCommand():
		listQueue(ctx, client)
	case addCmd.FullCommand():
		addTrack(ctx, client)
	case playNowCmd.FullCommand():
		playNow(ctx, client)
	case removeCmd.FullCommand():
		simpleCall(ctx, client, http.MethodDelete, "/api/v1/queue/"+*removeID)
	case clearCmd.FullCommand():
		simpleCall(ctx, client, http.MethodDelete, "/api/v1/queue")
	case playCmd.FullCommand():
		simpleCall(ctx, client, http.MethodPost, "/api/v1/player/play")
	case pauseCmd.FullCommand():
		simpleCall(ctx, client, http.MethodPost, "/api/v1/player/pause")
	case nextCmd.FullCommand():
		simpleCall(ctx, client, http.MethodPost, "/api/v1/player/next")
	case forwardCmd.FullCommand():
		simpleCall(ctx, client, http.MethodPost, "/api/v1/player/forward")
	case backCmd.FullCommand():
		simpleCall(ctx, client, http.MethodPost, "/api/v1/player/back")
	case seekCmd.FullCommand():
		seek(ctx, client)
	case rateCmd.FullCommand():
		postJSON(ctx, client, "/api/v1/player/rate", map[string]float64{"rate": *rateValue})
	case volumeCmd.FullCommand():
		postJSON(ctx, client, "/api/v1/player/volume", map[string]float64{"volume": *volumeValue})
	case chaptersCmd.FullCommand():
		listChapters(ctx, client)
	case chapterCmd.FullCommand():
		postJSON(ctx, client, "/api/v1/player/chapter", map[string]int{"index": *chapterIndex})
	case progressCmd.FullCommand():
		showProgress(ctx, client)
	case forgetCmd.FullCommand():
		simpleCall(ctx, client, http.MethodDelete, "/api/v1/progress/"+*forgetID)
	case searchCmd.FullCommand():
		search(ctx, client)
	case watchCmd.FullCommand():
		watch()
	}
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

// simpleCall performs a body-less request and prints the result message.
func simpleCall(ctx context.Context, client *apiClient, method, path string) {
	data, err := client.do(ctx, method, path, nil)
	if err != nil {
		fail(err)
	}
	printMessage(data)
}

func postJSON(ctx context.Context, client *apiClient, path string, body any) {
	data, err := client.post(ctx, path, body)
	if err != nil {
		fail(err)
	}
	printMessage(data)
}

func printMessage(data []byte) {
	if *jsonOut {
		fmt.Println(string(data))
		return
	}
	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &resp); err == nil && resp.Message != "" {
		fmt.Println(resp.Message)
	}
}

func showStatus(ctx context.Context, client *apiClient) {
	data, err := client.get(ctx, "/api/v1/status")
	if err != nil {
		fail(err)
	}
	if *jsonOut {
		fmt.Println(string(data))
		return
	}

	var status statusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		fail(err)
	}

	fmt.Printf("State:    %s %s\n", stateSymbol(status.State), status.State)
	if status.Track != nil {
		fmt.Printf("Track:    %s\n", describeTrack(status.Track.Track))
		fmt.Printf("Position: %s / %s (buffered %s)\n",
			formatClock(status.Position), formatClock(status.Duration), formatClock(status.Buffered))
	}
	fmt.Printf("Queue:    %d track(s)\n", status.QueueLength)
}

func listQueue(ctx context.Context, client *apiClient) {
	data, err := client.get(ctx, "/api/v1/queue")
	if err != nil {
		fail(err)
	}
	if *jsonOut {
		fmt.Println(string(data))
		return
	}

	var queue queueResponse
	if err := json.Unmarshal(data, &queue); err != nil {
		fail(err)
	}

	if len(queue.Tracks) == 0 {
		fmt.Println("Queue is empty.")
		return
	}
	for i, entry := range queue.Tracks {
		marker := " "
		if i == queue.CurrentIndex {
			marker = "▶"
		}
		fmt.Printf("%3d. %s %s\n", i, marker, describeTrack(entry.Track))
	}
}

func addTrack(ctx context.Context, client *apiClient) {
	payload := trackPayload{
		ID:        *addID,
		StreamURL: *addURL,
		Title:     *addTitle,
		Show:      *addShow,
		Duration:  addDuration.Seconds(),
	}
	data, err := client.post(ctx, "/api/v1/queue", payload)
	if err != nil {
		fail(err)
	}
	if *jsonOut {
		fmt.Println(string(data))
		return
	}
	fmt.Printf("Queued %s\n", *addID)
}

func playNow(ctx context.Context, client *apiClient) {
	req := playNowRequest{
		Track: trackPayload{
			ID:        *playNowID,
			StreamURL: *playNowURL,
			Title:     *playNowTitle,
			Show:      *playNowShow,
			Duration:  playNowDuration.Seconds(),
		},
	}
	if *playNowStart >= 0 {
		start := playNowStart.Seconds()
		req.StartPosition = &start
	}

	data, err := client.post(ctx, "/api/v1/queue/next", req)
	if err != nil {
		fail(err)
	}
	if *jsonOut {
		fmt.Println(string(data))
		return
	}
	fmt.Printf("Playing %s\n", *playNowID)
}

func seek(ctx context.Context, client *apiClient) {
	postJSON(ctx, client, "/api/v1/player/seek", map[string]float64{"position": seekPosition.Seconds()})
}

func listChapters(ctx context.Context, client *apiClient) {
	data, err := client.get(ctx, "/api/v1/chapters")
	if err != nil {
		fail(err)
	}
	if *jsonOut {
		fmt.Println(string(data))
		return
	}

	var chapters chaptersResponse
	if err := json.Unmarshal(data, &chapters); err != nil {
		fail(err)
	}

	if len(chapters.Chapters) == 0 {
		fmt.Println("Current track has no chapters.")
		return
	}
	for i, c := range chapters.Chapters {
		marker := " "
		if i == chapters.Active {
			marker = "▶"
		}
		end := ""
		if c.End > 0 {
			end = formatClock(c.End)
		}
		fmt.Printf("%3d. %s %-30s %s - %s\n", i, marker, c.Title, formatClock(c.Start), end)
	}
}

func showProgress(ctx context.Context, client *apiClient) {
	data, err := client.get(ctx, "/api/v1/progress/"+*progressID)
	if err != nil {
		fail(err)
	}
	if *jsonOut {
		fmt.Println(string(data))
		return
	}

	var progress progressResponse
	if err := json.Unmarshal(data, &progress); err != nil {
		fail(err)
	}
	fmt.Printf("Track:    %s\n", progress.TrackID)
	fmt.Printf("Position: %s / %s\n", formatClock(progress.Position), formatClock(progress.Duration))
	fmt.Printf("Saved:    %s\n", progress.UpdatedAt.Format(time.RFC3339))
}

func search(ctx context.Context, client *apiClient) {
	path := fmt.Sprintf("/api/v1/search?limit=%d", *searchLimit)
	if *searchShow > 0 {
		path += fmt.Sprintf("&show=%d", *searchShow)
	} else if *searchTerm != "" {
		path += "&q=" + url.QueryEscape(*searchTerm)
	} else {
		fail(fmt.Errorf("a search term or --show is required"))
	}

	data, err := client.get(ctx, path)
	if err != nil {
		fail(err)
	}
	if *jsonOut {
		fmt.Println(string(data))
		return
	}

	var result searchResponse
	if err := json.Unmarshal(data, &result); err != nil {
		fail(err)
	}

	for _, s := range result.Shows {
		fmt.Printf("%12d  %s / %s (%d episodes)\n", s.ID, s.Name, s.Author, s.EpisodeCount)
	}
	for _, e := range result.Episodes {
		fmt.Printf("%12d  %s / %s (%s)\n", e.ID, e.Title, e.Show, formatClock(e.Duration))
		fmt.Printf("              %s\n", e.AudioURL)
	}
	if len(result.Shows) == 0 && len(result.Episodes) == 0 {
		fmt.Println("No results.")
	}
}

func watch() {
	client := sse.NewClient(*server + "/events")

	fmt.Println("Watching playback events. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nDone.")
		os.Exit(0)
	}()

	err := client.Subscribe("playback", func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		if *jsonOut {
			fmt.Println(string(msg.Data))
			return
		}
		var event eventPayload
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		printEvent(event)
	})
	if err != nil {
		fail(err)
	}
}

func printEvent(event eventPayload) {
	switch event.Type {
	case "status_update":
		fmt.Printf("[%d] %-14s %s / %s\n", event.SequenceNo, event.Type,
			formatClock(event.Position), formatClock(event.Duration))
	case "track_changed", "track_finished", "queue_ended":
		name := ""
		if event.Track != nil {
			name = event.Track.Title
			if name == "" {
				name = event.Track.ID
			}
		}
		fmt.Printf("[%d] %-14s %s (%s)\n", event.SequenceNo, event.Type, name, event.State)
	default:
		fmt.Printf("[%d] %-14s state=%s\n", event.SequenceNo, event.Type, event.State)
	}
}

func describeTrack(t trackPayload) string {
	name := t.Title
	if name == "" {
		name = t.ID
	}
	if t.Show != "" {
		return fmt.Sprintf("%s / %s (id: %s)", name, t.Show, t.ID)
	}
	return fmt.Sprintf("%s (id: %s)", name, t.ID)
}

func stateSymbol(state string) string {
	switch state {
	case "playing":
		return "▶"
	case "paused":
		return "⏸"
	case "loaded":
		return "⏵"
	default:
		return "·"
	}
}

// formatClock renders seconds as mm:ss or h:mm:ss.
func formatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

