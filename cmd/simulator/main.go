package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Global flags
	apiURL := "http://localhost:8080"
	if envURL := os.Getenv("API_URL"); envURL != "" {
		apiURL = envURL
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "duel":
		duelCmd(apiURL, args)
	case "populate":
		populateCmd(apiURL, args)
	case "match":
		matchCmd(apiURL, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Battle Simulator - Development tool for exercising the battle server

USAGE:
  simulator <command> [options]

COMMANDS:
  duel      Create two users, open a duo battle, and have both join so it starts
  populate  Create N open battles waiting for opponents
  match     Enqueue two users into matchmaking and wait for the pairing
  help      Show this help message

ENVIRONMENT:
  API_URL   Backend API URL (default: http://localhost:8080)

EXAMPLES:
  # Spin up a full duo battle and watch its events
  simulator duel --rating=1400 --duration=15

  # Leave 5 open battles on the board for manual joining
  simulator populate --count=5

  # Watch the matchmaking queue pair two users
  simulator match --rating=1200`)
}

func duelCmd(apiURL string, args []string) {
	fs := flag.NewFlagSet("duel", flag.ExitOnError)
	rating := fs.Int("rating", 1400, "Problem rating for the battle")
	duration := fs.Int("duration", 15, "Battle duration in minutes")
	fs.Parse(args)

	client := NewAPIClient(apiURL)

	fmt.Println("Creating users...")
	host, hostToken, err := client.RegisterUser("sim_host")
	exitOn(err)
	fmt.Printf("  host: %s\n", host.Username)

	guest, guestToken, err := client.RegisterUser("sim_guest")
	exitOn(err)
	fmt.Printf("  guest: %s\n", guest.Username)

	hostWS, err := client.Connect(hostToken)
	exitOn(err)
	defer hostWS.Close()

	guestWS, err := client.Connect(guestToken)
	exitOn(err)
	defer guestWS.Close()

	fmt.Println("Creating battle...")
	roomID, err := hostWS.CreateBattle("duo", *duration, *rating)
	exitOn(err)
	fmt.Printf("  room: %s\n", roomID)

	fmt.Println("Joining...")
	exitOn(guestWS.JoinBattle(roomID))

	fmt.Println("Waiting for battle start...")
	hostWS.WatchUntil("BATTLE_STARTED")
	fmt.Println("Battle is running. Streaming events (Ctrl-C to stop):")
	hostWS.Stream()
}

func populateCmd(apiURL string, args []string) {
	fs := flag.NewFlagSet("populate", flag.ExitOnError)
	count := fs.Int("count", 3, "Number of open battles to create")
	rating := fs.Int("rating", 1400, "Problem rating for the battles")
	fs.Parse(args)

	client := NewAPIClient(apiURL)

	for i := 0; i < *count; i++ {
		user, token, err := client.RegisterUser("sim_open")
		exitOn(err)

		ws, err := client.Connect(token)
		exitOn(err)

		roomID, err := ws.CreateBattle("duo", 15, *rating)
		exitOn(err)
		fmt.Printf("  %s opened battle %s\n", user.Username, roomID)
		// Keep the connection open so the battle stays hosted.
	}

	fmt.Printf("Created %d open battles. Press Ctrl-C to tear them down.\n", *count)
	select {}
}

func matchCmd(apiURL string, args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	rating := fs.Int("rating", 1200, "Preferred rating for both users")
	fs.Parse(args)

	client := NewAPIClient(apiURL)

	a, aToken, err := client.RegisterUser("sim_mm_a")
	exitOn(err)
	b, bToken, err := client.RegisterUser("sim_mm_b")
	exitOn(err)

	aWS, err := client.Connect(aToken)
	exitOn(err)
	defer aWS.Close()
	bWS, err := client.Connect(bToken)
	exitOn(err)
	defer bWS.Close()

	fmt.Printf("Enqueueing %s and %s at rating %d...\n", a.Username, b.Username, *rating)
	exitOn(aWS.JoinMatchmaking(*rating, 15))
	exitOn(bWS.JoinMatchmaking(*rating, 15))

	fmt.Println("Waiting for match...")
	aWS.WatchUntil("MATCH_FOUND")
	fmt.Println("Match found. Streaming events (Ctrl-C to stop):")
	aWS.Stream()
}

func exitOn(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
