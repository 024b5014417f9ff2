// Imubeat — Beat на базе Elastic Beats v7 (libbeat): телеметрия модулей IMU/GNSS
// публикуется событиями в выходы libbeat.
//
// Каждое корректное сообщение порта данных — одно событие:
//
//	@timestamp — время приёма сообщения
//	type       — тип сообщения (IMU, GPS, INS, HDG, ...)
//	encoding   — кодировка кадра: ascii или binary
//	fields     — поля сообщения по именам (accel_x_g, lat_deg, ...)
//
// Подключение к модулю, телеметрия и поправки настраиваются как у imulink -run.
package main

import (
	"os"

	"github.com/elastic/beats/v7/libbeat/cmd"
	"github.com/elastic/beats/v7/libbeat/cmd/instance"

	"github.com/shiwa/imulink/internal/beater"
)

func main() {
	rootCmd := cmd.GenRootCmdWithSettings(beater.New, instance.Settings{
		Name: "imubeat",
	})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
