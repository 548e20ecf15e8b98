// Package checklist はチェックリストのJSONからテンプレート登録用のSQLを生成する。
//
// 入力はチェックリストのJSONと、テンプレートIDや作成者などを指定するYAMLのマニフェスト。
// 出力は collection_templates、template_pages、template_slots へのINSERT文で、
// 同じ入力からは常に同じSQLを生成する。
package checklist
