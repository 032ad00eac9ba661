package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/code-duel/internal/judge"
	"github.com/park285/code-duel/pkg/duelapi"
	"nhooyr.io/websocket"
)

var hello = map[string]string{
	"python":     `print(input().strip())`,
	"javascript": `const l=require("fs").readFileSync(0,"utf8").trim();console.log(l)`,
	"c":          "#include <stdio.h>\nint main(){char b[64];scanf(\"%63s\",b);puts(b);return 0;}",
	"cpp":        "#include <iostream>\n#include <string>\nint main(){std::string s;std::cin>>s;std::cout<<s<<std::endl;}",
	"java":       "import java.util.*;\npublic class Main{public static void main(String[] a){System.out.println(new Scanner(System.in).next());}}",
}

func main() {
	baseURL := os.Getenv("PISTON_URL")
	streamURL := os.Getenv("DUEL_STREAM_URL")
	if baseURL == "" {
		baseURL = "https://emkc.org/api/v2/piston"
	}

	client := judge.NewPistonClient(baseURL, judge.WithTimeout(15*time.Second), judge.WithRetry(1))
	failed := 0
	for _, lang := range judge.Languages() {
		src, ok := hello[lang.Name]
		if !ok || !lang.Available {
			log.Printf("%-10s skipped", lang.Name)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		ex, err := client.Execute(ctx, lang, src, "duel\n")
		cancel()
		res := judge.Classify(1, ex, err, []string{"duel"})
		log.Printf("%-10s %s %s", lang.Name, lang.Version, res.Verdict.Label())
		if res.Verdict != duelapi.VerdictAccepted {
			failed++
			if res.Stderr != "" {
				log.Printf("           stderr: %s", strings.TrimSpace(res.Stderr))
			}
		}
	}

	if streamURL == "" {
		log.Println("DUEL_STREAM_URL not set; skipping stream check")
	} else {
		watchStream(streamURL)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// watchStream prints match stream frames for a short window.
func watchStream(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{CompressionMode: websocket.CompressionNoContextTakeover})
	if err != nil {
		log.Printf("stream dial error: %v", err)
		return
	}
	defer conn.CloseNow()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		fmt.Printf("stream %s\n", raw)
	}
}
