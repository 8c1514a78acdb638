package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"VibeTune/client"
	"VibeTune/core/recorder"
	"VibeTune/logger"

	"github.com/spf13/cobra"
)

var (
	recordDevice string
	recordText   string
	recordTitle  string
	recordUser   string
)

const recordHelp = `commands:
  start            3 秒倒计时后开始录制 (最长 30 秒)
  stop             停止倒计时或录制
  discard          丢弃录制结果
  accept           提交录制结果生成音乐
  devices          列出采集设备
  device <id>      切换采集设备
  quit             退出`

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "录制视频片段并提交生成音乐",
	RunE: func(cmd *cobra.Command, args []string) error {
		capture := recorder.NewFFmpegCapture(cfg)
		session := recorder.NewSession(capture, recordDevice, recorder.RealTicker)
		defer session.Close()

		go func() {
			for m := range session.Updates() {
				switch m.State {
				case recorder.StateCountdown:
					fmt.Printf("\r倒计时 %d  ", m.Countdown)
				case recorder.StateRecording:
					fmt.Printf("\r录制中 %02ds / %ds  ", m.Elapsed, recorder.MaxRecordingSeconds)
				default:
					fmt.Printf("\n[%s]\n", m.State)
				}
			}
		}()

		api := client.New(apiBaseURL(), apiToken)
		fmt.Println(recordHelp)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) == 0 {
				continue
			}

			var err error
			switch fields[0] {
			case "start":
				_, err = session.Start()
			case "stop":
				_, err = session.Stop()
			case "discard":
				_, err = session.Discard()
			case "devices":
				var devices []recorder.Device
				devices, err = capture.Devices(cmd.Context())
				for _, d := range devices {
					fmt.Printf("  %s  %s\n", d.ID, d.Label)
				}
			case "device":
				if len(fields) < 2 {
					err = fmt.Errorf("usage: device <id>")
					break
				}
				_, err = session.SwitchDevice(fields[1])
			case "accept":
				err = submitRecording(cmd, session, api)
			case "quit", "exit":
				return nil
			default:
				fmt.Println(recordHelp)
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		}
		return scanner.Err()
	},
}

func submitRecording(cmd *cobra.Command, session *recorder.Session, api *client.Client) error {
	media, err := session.Accept()
	if err != nil {
		return err
	}
	defer os.Remove(media.Path)

	song, err := api.Submit(cmd.Context(), client.SubmitInput{
		VideoPath: media.Path,
		UserText:  recordText,
		Title:     recordTitle,
		UserID:    recordUser,
	})
	if err != nil {
		return err
	}
	logger.Info("[Record] recording submitted",
		logger.String("songId", song.ID),
		logger.Duration("duration", media.Duration))
	fmt.Printf("已提交: %s (%s)，可用 `vibetune songs --watch` 查看进度\n", song.ID, song.Status)
	return nil
}

func init() {
	recordCmd.Flags().StringVarP(&recordDevice, "device", "d", "", "采集设备 (默认第一个)")
	recordCmd.Flags().StringVarP(&recordText, "text", "t", "", "对录制内容的文字描述")
	recordCmd.Flags().StringVar(&recordTitle, "title", "", "歌曲标题")
	recordCmd.Flags().StringVarP(&recordUser, "user", "u", "", "用户ID (默认使用令牌中的用户)")
	rootCmd.AddCommand(recordCmd)
}
