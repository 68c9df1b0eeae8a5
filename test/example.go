package test

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ajwheeler/astra"
	"github.com/ajwheeler/astra/util"
	_ "github.com/go-sql-driver/mysql"
)

var fitOutput = &astra.OutputModel{
	Table: "fit_output",
	Columns: []astra.Column{
		{Name: "teff", Type: "DOUBLE"},
		{Name: "logg", Type: "DOUBLE"},
	},
}

//pre_execute
func loadGrid(ctx context.Context, task *astra.Instance) (interface{}, error) {
	fmt.Printf("loading grid %v\n", task.Param("grid"))
	return nil, nil
}

//execute
func fitSpectra(ctx context.Context, task *astra.Instance) (interface{}, error) {
	it, err := task.Iterable(ctx)
	if err != nil {
		return nil, err
	}
	for it.Next() {
		unit := it.Unit()
		results := []map[string]interface{}{
			{"teff": 4000 + 10*unit.Parameters["obj"].(float64), "logg": 4.5},
		}
		if _, err = task.CreateOrUpdateOutputs(ctx, unit.Task, fitOutput, results); err != nil {
			return nil, err
		}
	}
	return it.Len(), nil
}

//post_execute
func summarize(ctx context.Context, task *astra.Instance) (interface{}, error) {
	fmt.Printf("fitted %v spectra\n", task.Context().Result(astra.Execute))
	return nil, nil
}

func main() {
	//set db for astra to store tasks, bundles and outputs
	db, err := sql.Open("mysql", "root:root123@tcp(127.0.0.1:3306)/astra?charset=utf8&parseTime=true")
	if err != nil {
		panic(err)
	}
	astra.SetDB(db, astra.MySQL)
	store := astra.NewSQLStore(db, astra.MySQL, nil)
	if err = store.CreateTables(context.Background()); err != nil {
		panic(err)
	}
	if err = store.CreateOutputTable(context.Background(), fitOutput); err != nil {
		panic(err)
	}

	//build task type
	fit := astra.NewTaskType("fit_spectra").
		Parameter("obj").
		Parameter("grid", astra.Default("kurucz")).
		PreExecute(loadGrid).
		Execute(fitSpectra).
		PostExecute(summarize).
		Build()

	//register task type to astra
	astra.Register(fit)

	//run a bundle of three tasks
	//astra.StartAsync(context.Background(), fit.Name(), params)
	params, _ := util.JsonString(map[string]interface{}{
		"obj": []int{1, 2, 3},
	})
	inst, err := astra.Start(context.Background(), fit.Name(), params)
	if err != nil {
		panic(err)
	}
	fmt.Printf("timing: %v\n", inst.Context().Timing.Metrics())
}
