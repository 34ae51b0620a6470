// Command convert patches a Keras 3 model.json so TensorFlow.js can load it.
//
//	convert -model public/tfjs_model/model.json
package main

import (
	"flag"
	"log"

	"github.com/Brownie44l1/sign-api/internal/topology"
)

func main() {
	modelPath := flag.String("model", "models/tfjs_model/model.json", "Path to the exported model.json")
	backupPath := flag.String("backup", "", "Backup of the original export (default: model_original.json next to the model)")
	dryRun := flag.Bool("dry-run", false, "Report what would change without writing")
	flag.Parse()

	log.Println("Converting Keras 3 model to TensorFlow.js layers format")

	report, err := topology.ConvertFile(topology.Options{
		ModelPath:  *modelPath,
		BackupPath: *backupPath,
		DryRun:     *dryRun,
	})
	if err != nil {
		log.Fatalf("Conversion failed: %v", err)
	}

	log.Printf("Converted %d of %d layers (input layers: %d, dtypes: %d, inbound nodes: %d)",
		report.Modified, report.Layers, report.InputLayers, report.DTypes, report.InboundNodes)
	log.Println("Verification:")
	log.Printf("  First layer: %s", report.Verification.FirstLayerClass)
	log.Printf("  InputLayer has batch_input_shape: %t", report.Verification.HasBatchInputShape)
	log.Printf("  Second layer inbound_nodes: %s", report.Verification.SecondLayerInbound)
	if *dryRun {
		log.Println("Dry run, nothing written")
	}
}
