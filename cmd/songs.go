package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"VibeTune/client"
	"VibeTune/core/poller"
	"VibeTune/model"

	"github.com/spf13/cobra"
)

var (
	songsUser  string
	songsWatch bool
	songTitle  string
)

var songsCmd = &cobra.Command{
	Use:   "songs",
	Short: "列出歌曲，--watch 时持续刷新直到没有处理中的歌曲",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(apiBaseURL(), apiToken)
		fetch := func(ctx context.Context) ([]*model.Song, error) {
			return c.ListSongs(ctx, songsUser)
		}
		if !songsWatch {
			songs, err := fetch(cmd.Context())
			if err != nil {
				return err
			}
			printSongs(songs)
			return nil
		}

		return poller.New(cfg.PollInterval, fetch).Run(cmd.Context(), func(songs []*model.Song) {
			fmt.Println()
			printSongs(songs)
		})
	},
}

var songGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "查看歌曲详情",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		song, err := client.New(apiBaseURL(), apiToken).GetSong(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSongs([]*model.Song{song})
		if song.Parameters != nil && song.Parameters.Prompt != "" {
			fmt.Printf("\nprompt: %s\n", song.Parameters.Prompt)
		}
		return nil
	},
}

var songCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建一条处理中的歌曲记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		song, err := client.New(apiBaseURL(), apiToken).CreateSong(cmd.Context(), client.CreateSongInput{
			Title:  songTitle,
			UserID: songsUser,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", song.ID, song.Status)
		return nil
	},
}

var songDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "删除歌曲及其音频",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.New(apiBaseURL(), apiToken).DeleteSong(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Song deleted")
		return nil
	},
}

var songDownloadCmd = &cobra.Command{
	Use:   "download <id> [file]",
	Short: "下载已完成歌曲的音频",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(apiBaseURL(), apiToken)
		song, err := c.GetSong(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if song.Status != model.SongStatusCompleted || song.FileURL == nil {
			return fmt.Errorf("song %s is %s, nothing to download", song.ID, song.Status)
		}
		out := song.ID + ".wav"
		if len(args) == 2 {
			out = args[1]
		}
		n, err := c.Download(cmd.Context(), *song.FileURL, out)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes)\n", out, n)
		return nil
	},
}

func printSongs(songs []*model.Song) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tCREATED\tFILE")
	for _, s := range songs {
		file := ""
		if s.FileURL != nil {
			file = *s.FileURL
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Title, s.Status, s.CreatedAt.Format("2006-01-02 15:04"), file)
	}
	tw.Flush()
}

func init() {
	songsCmd.PersistentFlags().StringVarP(&songsUser, "user", "u", "", "只显示该用户的歌曲")
	songsCmd.Flags().BoolVarP(&songsWatch, "watch", "w", false, "每隔轮询间隔刷新，直到没有处理中的歌曲")
	songCreateCmd.Flags().StringVarP(&songTitle, "title", "t", "", "歌曲标题")
	songCreateCmd.MarkFlagRequired("title")

	songsCmd.AddCommand(songGetCmd, songCreateCmd, songDeleteCmd, songDownloadCmd)
	rootCmd.AddCommand(songsCmd)
}
