package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"VibeTune/core/music"
	"VibeTune/core/vision"

	"github.com/spf13/cobra"
)

var (
	genPrompt   string
	genVideo    string
	genText     string
	genNegative string
	genOut      string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "在本地直接调用模型生成音乐并保存为WAV",
	Long: `不经过API服务器：可直接给出 --prompt，或给出 --video/--text 由视频理解模型生成提示词，
再调用文本生成音乐模型，结果写入 --out。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		prompt := strings.TrimSpace(genPrompt)
		if prompt == "" {
			var video *vision.Video
			if genVideo != "" {
				data, err := os.ReadFile(genVideo)
				if err != nil {
					return fmt.Errorf("read video: %w", err)
				}
				video = &vision.Video{Data: data, MIMEType: videoMIMEType(genVideo)}
			}
			if video == nil && strings.TrimSpace(genText) == "" {
				return fmt.Errorf("one of --prompt, --video or --text is required")
			}
			analyzer, err := vision.NewAnalyzer(ctx, cfg)
			if err != nil {
				return err
			}
			res := analyzer.Prompt(ctx, video, genText)
			fmt.Printf("prompt (%s): %s\n", res.Source, res.Prompt)
			prompt = res.Prompt
		}

		lyria, err := music.NewLyriaClient(ctx, cfg)
		if err != nil {
			return err
		}
		audio, err := lyria.Generate(ctx, music.Request{Prompt: prompt, NegativePrompt: genNegative})
		if err != nil {
			return err
		}

		if dir := filepath.Dir(genOut); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
		if err := os.WriteFile(genOut, audio.Data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", genOut, err)
		}
		fmt.Printf("wrote %s (%.1fs, %d Hz, %d ch)\n", genOut, audio.Duration, audio.SampleRate, audio.Channels)
		return nil
	},
}

func videoMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	default:
		return "video/webm"
	}
}

func init() {
	generateCmd.Flags().StringVarP(&genPrompt, "prompt", "p", "", "音乐提示词")
	generateCmd.Flags().StringVar(&genVideo, "video", "", "源视频文件")
	generateCmd.Flags().StringVarP(&genText, "text", "t", "", "对视频的文字描述")
	generateCmd.Flags().StringVar(&genNegative, "negative", "", "排除的元素")
	generateCmd.Flags().StringVarP(&genOut, "out", "o", "generated-song.wav", "输出文件")
	rootCmd.AddCommand(generateCmd)
}
